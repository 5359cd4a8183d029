package stream

import (
	"strings"
	"testing"
)

// Claude stream-json: system (init), assistant (full message), result.
const testClaudeNDJSON = `{"type":"system","subtype":"init","session_id":"abc123","model":"claude-sonnet-4-5-20250929","tools":["Bash","Read","Write"]}
{"type":"assistant","message":{"id":"msg_01","model":"claude-sonnet-4-5-20250929","role":"assistant","content":[{"type":"text","text":"Hello, world!"}],"usage":{"input_tokens":100,"output_tokens":50}}}
{"type":"result","subtype":"success","is_error":false,"total_cost_usd":0.08,"duration_ms":141000,"num_turns":3,"result":"Hello, world!","usage":{"input_tokens":1200,"output_tokens":3400}}
`

func collect(t *testing.T, decode Decoder, input string, chunkSize int) (*NDJSON, []Event) {
	t.Helper()
	var events []Event
	s := NewNDJSON("test", decode, Sink{OnEvent: func(ev Event) { events = append(events, ev) }})
	data := []byte(input)
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		s.ProcessChunk(data[:n])
		data = data[n:]
	}
	s.Flush()
	return s, events
}

func TestNDJSONClaudeState(t *testing.T) {
	s, events := collect(t, DecodeClaude, testClaudeNDJSON, 4096)

	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	st := s.State()
	if st.SessionID != "abc123" {
		t.Errorf("SessionID = %q, want %q", st.SessionID, "abc123")
	}
	if st.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("Model = %q", st.Model)
	}
	if st.Text != "Hello, world!" {
		t.Errorf("Text = %q, want %q", st.Text, "Hello, world!")
	}
	if st.Usage == nil || st.Usage.InputTokens != 1200 || st.Usage.OutputTokens != 3400 {
		t.Fatalf("Usage = %+v, want 1200/3400", st.Usage)
	}
	if st.Usage.CostUSD != 0.08 {
		t.Errorf("CostUSD = %v, want 0.08", st.Usage.CostUSD)
	}
	if st.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestNDJSONSplitAcrossChunks(t *testing.T) {
	// Every byte in its own chunk must yield the same events.
	s, events := collect(t, DecodeClaude, testClaudeNDJSON, 1)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if got := s.State().Text; got != "Hello, world!" {
		t.Fatalf("Text = %q", got)
	}
}

func TestNDJSONTrailingLineWithoutNewline(t *testing.T) {
	input := strings.TrimSuffix(testClaudeNDJSON, "\n")
	_, events := collect(t, DecodeClaude, input, 64)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[2].Type != "result" {
		t.Fatalf("last event = %q, want result", events[2].Type)
	}
}

func TestNDJSONMalformedLinesSkipped(t *testing.T) {
	input := "not json\n\n" + testClaudeNDJSON + "{broken\n"
	s, events := collect(t, DecodeClaude, input, 32)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if got := s.State().Malformed; got != 2 {
		t.Fatalf("Malformed = %d, want 2", got)
	}
}

func TestNDJSONOversizedLineDropped(t *testing.T) {
	huge := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"` +
		strings.Repeat("x", maxLineSize) + `"}]}}` + "\n"
	s, events := collect(t, DecodeClaude, huge+testClaudeNDJSON, 64*1024)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if s.State().Malformed != 1 {
		t.Fatalf("Malformed = %d, want 1", s.State().Malformed)
	}
}

func TestNDJSONErrorResult(t *testing.T) {
	input := `{"type":"system","subtype":"init","session_id":"s1"}
{"type":"result","subtype":"error_during_execution","is_error":true,"result":"rate limited"}
`
	s, _ := collect(t, DecodeClaude, input, 4096)
	st := s.State()
	if !st.IsError {
		t.Fatal("IsError = false, want true")
	}
	if st.ErrorText != "rate limited" {
		t.Fatalf("ErrorText = %q", st.ErrorText)
	}
	if st.Text != "" {
		t.Fatalf("Text = %q, want empty", st.Text)
	}
}

func TestNDJSONFallsBackToLastAssistantMessage(t *testing.T) {
	input := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash","id":"t1","input":{}}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"final answer"}]}}
`
	s, _ := collect(t, DecodeClaude, input, 4096)
	if got := s.State().Text; got != "final answer" {
		t.Fatalf("Text = %q, want %q", got, "final answer")
	}
}

func TestNDJSONFlushReportsProgress(t *testing.T) {
	var last Progress
	calls := 0
	s := NewNDJSON("test", nil, Sink{OnProgress: func(p Progress) { last = p; calls++ }})
	s.ProcessChunk([]byte(testClaudeNDJSON))
	s.Flush()
	if calls != 1 {
		t.Fatalf("progress calls = %d, want 1", calls)
	}
	if last.Events != 3 {
		t.Fatalf("Events = %d, want 3", last.Events)
	}
}
