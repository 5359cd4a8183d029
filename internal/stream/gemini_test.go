package stream

import "testing"

const testGeminiDelta = `{"type":"init","session_id":"gem-delta","model":"gemini-2.5-flash"}
{"type":"message","role":"user","content":"hi"}
{"type":"message","role":"assistant","content":"Hel","delta":true}
{"type":"message","role":"assistant","content":"lo ","delta":true}
{"type":"message","role":"assistant","content":"world","delta":true}
{"type":"result","status":"success","stats":{"total_tokens":50,"input_tokens":30,"output_tokens":20,"duration_ms":500}}
`

const testGeminiToolUse = `{"type":"init","session_id":"gem-tool","model":"gemini-2.5-pro"}
{"type":"message","role":"assistant","content":"Let me look.","delta":true}
{"type":"message","role":"assistant","content":"thinking hard","thought":true}
{"type":"tool_use","tool_name":"shell","tool_id":"call_1","parameters":{"command":"ls -la"}}
{"type":"tool_result","tool_id":"call_1","status":"success","output":"file1.txt\nfile2.txt"}
{"type":"message","role":"assistant","content":"I found two files.","delta":true}
{"type":"result","status":"success","stats":{"input_tokens":80,"output_tokens":70}}
`

func TestDecodeGeminiDeltas(t *testing.T) {
	s, events := collect(t, DecodeGemini, testGeminiDelta, 4096)

	// The user message is skipped.
	if len(events) != 5 {
		t.Fatalf("len(events) = %d, want 5", len(events))
	}
	st := s.State()
	if st.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", st.Text, "Hello world")
	}
	if st.SessionID != "gem-delta" || st.Model != "gemini-2.5-flash" {
		t.Errorf("session/model = %q/%q", st.SessionID, st.Model)
	}
	if st.Usage == nil || st.Usage.InputTokens != 30 || st.Usage.OutputTokens != 20 {
		t.Fatalf("Usage = %+v", st.Usage)
	}
}

func TestDecodeGeminiToolUseSplitsMessages(t *testing.T) {
	s, events := collect(t, DecodeGemini, testGeminiToolUse, 4096)

	var sawToolUse, sawToolResult bool
	for _, ev := range events {
		if ev.Message == nil {
			continue
		}
		for _, b := range ev.Message.Content {
			switch b.Type {
			case "tool_use":
				sawToolUse = b.Name == "shell" && b.ID == "call_1"
			case "tool_result":
				sawToolResult = b.ToolContentText() == "file1.txt\nfile2.txt"
			}
		}
	}
	if !sawToolUse || !sawToolResult {
		t.Fatalf("tool_use=%v tool_result=%v, want both", sawToolUse, sawToolResult)
	}
	if got := s.State().Text; got != "I found two files." {
		t.Fatalf("Text = %q, want final message only", got)
	}
}

func TestDecodeGeminiErrorResult(t *testing.T) {
	input := `{"type":"error","severity":"warning","message":"slow"}
{"type":"error","severity":"error","message":"quota"}
{"type":"result","status":"error","error":{"type":"api","message":"quota exceeded"}}
`
	s, events := collect(t, DecodeGemini, input, 4096)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (warning skipped)", len(events))
	}
	st := s.State()
	if !st.IsError || st.ErrorText != "quota exceeded" {
		t.Fatalf("state = %+v", st)
	}
}
