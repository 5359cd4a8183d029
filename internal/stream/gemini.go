package stream

import (
	"encoding/json"
)

// geminiEvent is one line of `gemini --output-format stream-json`.
//
//   - init:        session_id, model
//   - message:     role, content, delta, thought
//   - tool_use:    tool_name, tool_id, parameters
//   - tool_result: tool_id, status, output, error
//   - error:       severity, message
//   - result:      status, error, stats
type geminiEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Role       string          `json:"role,omitempty"`
	Content    string          `json:"content,omitempty"`
	Delta      bool            `json:"delta,omitempty"`
	Thought    bool            `json:"thought,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Output     string          `json:"output,omitempty"`
	Message    string          `json:"message,omitempty"`
	Severity   string          `json:"severity,omitempty"`
	Error      *geminiError    `json:"error,omitempty"`
	Stats      *geminiStats    `json:"stats,omitempty"`
}

type geminiError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type geminiStats struct {
	TotalTokens  int     `json:"total_tokens,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cached       int     `json:"cached,omitempty"`
	DurationMS   float64 `json:"duration_ms,omitempty"`
}

// DecodeGemini maps gemini stream-json events onto the common model.
func DecodeGemini(line []byte) (Event, bool, error) {
	var ge geminiEvent
	if err := json.Unmarshal(line, &ge); err != nil {
		return Event{}, false, err
	}

	switch ge.Type {
	case "init":
		return Event{Type: "system", Subtype: "init", SessionID: ge.SessionID, Model: ge.Model}, true, nil

	case "message":
		if ge.Role != "assistant" {
			return Event{}, false, nil
		}
		if ge.Thought {
			return assistantEvent(ContentBlock{Type: "thinking", Text: ge.Content}), true, nil
		}
		if ge.Delta {
			return Event{Type: "content_block_delta", Delta: &Delta{Type: "text_delta", Text: ge.Content}}, true, nil
		}
		return assistantEvent(ContentBlock{Type: "text", Text: ge.Content}), true, nil

	case "tool_use":
		return toolUseEvent(ge.ToolID, ge.ToolName, ge.Parameters), true, nil

	case "tool_result":
		output := ge.Output
		isError := ge.Status == "error"
		if isError && ge.Error != nil && ge.Error.Message != "" {
			output = ge.Error.Message
		}
		content, err := json.Marshal(output)
		if err != nil {
			return Event{}, false, err
		}
		return toolResultEvent(ge.ToolID, isError, content), true, nil

	case "result":
		ev := Event{Type: "result", SessionID: ge.SessionID}
		if ge.Status == "error" {
			ev.IsError = true
			ev.ResultText = "gemini reported an error"
			if ge.Error != nil && ge.Error.Message != "" {
				ev.ResultText = ge.Error.Message
			}
		}
		if ge.Stats != nil {
			ev.DurationMS = ge.Stats.DurationMS
			ev.Usage = &Usage{
				InputTokens:          ge.Stats.InputTokens,
				OutputTokens:         ge.Stats.OutputTokens,
				CacheReadInputTokens: ge.Stats.Cached,
			}
		}
		return ev, true, nil

	case "error":
		if ge.Severity == "warning" {
			return Event{}, false, nil
		}
		return Event{Type: "error", ResultText: ge.Message}, true, nil
	}
	return Event{}, false, nil
}
