package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

type codexEvent struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id,omitempty"`
	Usage    *codexUsage `json:"usage,omitempty"`
	Error    *codexError `json:"error,omitempty"`
	Message  string      `json:"message,omitempty"`
	Item     *codexItem  `json:"item,omitempty"`
}

type codexUsage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
}

type codexError struct {
	Message string `json:"message"`
}

type codexItem struct {
	ID               string          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Text             string          `json:"text,omitempty"`
	Command          string          `json:"command,omitempty"`
	AggregatedOutput string          `json:"aggregated_output,omitempty"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	Status           string          `json:"status,omitempty"`
	Server           string          `json:"server,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            *codexError     `json:"error,omitempty"`
}

// DecodeCodex maps `codex exec --json` JSONL events onto the common model.
// thread.started becomes system/init carrying the thread id as session id,
// turn.completed becomes a result with usage and turn.failed an error result.
func DecodeCodex(line []byte) (Event, bool, error) {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, false, err
	}

	switch ev.Type {
	case "thread.started":
		return Event{Type: "system", Subtype: "init", SessionID: ev.ThreadID}, true, nil
	case "turn.completed":
		out := Event{Type: "result", Subtype: "success", NumTurns: 1, Usage: &Usage{}}
		if ev.Usage != nil {
			out.Usage.InputTokens = ev.Usage.InputTokens
			out.Usage.OutputTokens = ev.Usage.OutputTokens
			out.Usage.CacheReadInputTokens = ev.Usage.CachedInputTokens
		}
		return out, true, nil
	case "turn.failed":
		return Event{
			Type:       "result",
			Subtype:    "error_during_execution",
			IsError:    true,
			ResultText: codexMessage(ev.Error, ev.Message),
		}, true, nil
	case "error":
		return Event{Type: "error", ResultText: codexMessage(ev.Error, ev.Message)}, true, nil
	case "item.started", "item.updated", "item.completed":
		if ev.Item == nil {
			return Event{}, false, nil
		}
		return codexItemEvent(ev.Type, *ev.Item)
	}
	return Event{}, false, nil
}

func codexMessage(e *codexError, fallback string) string {
	if e != nil && strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return "unknown error"
}

func codexItemEvent(eventType string, item codexItem) (Event, bool, error) {
	switch item.Type {
	case "agent_message", "reasoning":
		// Messages are only final on completion; earlier updates would
		// duplicate text.
		if eventType != "item.completed" || strings.TrimSpace(item.Text) == "" {
			return Event{}, false, nil
		}
		blockType := "text"
		if item.Type == "reasoning" {
			blockType = "thinking"
		}
		return assistantEvent(ContentBlock{Type: blockType, Text: item.Text}), true, nil
	case "command_execution":
		return codexCommand(eventType, item)
	case "mcp_tool_call":
		return codexToolCall(eventType, item)
	case "error":
		return Event{Type: "error", ResultText: codexMessage(item.Error, "")}, true, nil
	}
	return Event{}, false, nil
}

func codexStarted(eventType string, item codexItem) bool {
	status := strings.ToLower(strings.TrimSpace(item.Status))
	return eventType == "item.started" || status == "" || status == "in_progress"
}

func codexCommand(eventType string, item codexItem) (Event, bool, error) {
	if codexStarted(eventType, item) {
		input, err := json.Marshal(map[string]string{"command": item.Command})
		if err != nil {
			return Event{}, false, fmt.Errorf("marshal command_execution input: %w", err)
		}
		return toolUseEvent(item.ID, "Bash", input), true, nil
	}

	status := strings.ToLower(item.Status)
	isError := status == "failed" || status == "declined" || (item.ExitCode != nil && *item.ExitCode != 0)
	text := item.AggregatedOutput
	if strings.TrimSpace(text) == "" {
		text = "command finished"
		if item.ExitCode != nil {
			text = fmt.Sprintf("command finished (exit=%d)", *item.ExitCode)
		}
	}
	content, err := json.Marshal(text)
	if err != nil {
		return Event{}, false, fmt.Errorf("marshal command_execution result: %w", err)
	}
	return toolResultEvent(item.ID, isError, content), true, nil
}

func codexToolCall(eventType string, item codexItem) (Event, bool, error) {
	name := strings.Trim(item.Server+"."+item.Tool, ".")
	if name == "" {
		name = "mcp"
	}
	if codexStarted(eventType, item) {
		return toolUseEvent(item.ID, name, item.Arguments), true, nil
	}
	if item.Error != nil && strings.TrimSpace(item.Error.Message) != "" {
		msg, err := json.Marshal(item.Error.Message)
		if err != nil {
			return Event{}, false, fmt.Errorf("marshal mcp_tool_call error: %w", err)
		}
		return toolResultEvent(item.ID, true, msg), true, nil
	}
	return toolResultEvent(item.ID, strings.EqualFold(item.Status, "failed"), item.Result), true, nil
}

func assistantEvent(blocks ...ContentBlock) Event {
	return Event{Type: "assistant", Message: &Message{Role: "assistant", Content: blocks}}
}

func toolUseEvent(id, name string, input []byte) Event {
	if len(input) == 0 {
		input = []byte("{}")
	}
	return assistantEvent(ContentBlock{Type: "tool_use", Name: name, ID: id, Input: input})
}

func toolResultEvent(toolUseID string, isError bool, content []byte) Event {
	if len(content) == 0 {
		content = []byte(`""`)
	}
	return Event{
		Type: "user",
		Message: &Message{
			Role: "user",
			Content: []ContentBlock{{
				Type:        "tool_result",
				ToolUseID:   toolUseID,
				ToolContent: content,
				IsError:     isError,
			}},
		},
	}
}
