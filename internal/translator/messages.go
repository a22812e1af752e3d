package translator

import (
	"fmt"
	"strings"

	"yagpt-router/internal/models"
)

// TranslateMessages maps downstream chat messages onto the upstream
// role+text shape, preserving order. Assistant tool calls and tool results
// have no native upstream counterpart and are rendered as conversation text.
func TranslateMessages(msgs []ChatMessage) ([]models.Message, error) {
	if len(msgs) == 0 {
		return nil, errEmptyMessages
	}

	callNames := make(map[string]string)
	out := make([]models.Message, 0, len(msgs))

	for i, msg := range msgs {
		if err := msg.validate(); err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}

		switch msg.Role {
		case "assistant":
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					callNames[call.ID] = call.Function.Name
				}
			}
			out = append(out, models.Message{
				Role:    "assistant",
				Content: renderAssistant(msg),
			})
		case "tool":
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			out = append(out, models.Message{
				Role:    "user",
				Content: renderToolResult(msg.ToolCallID, name, msg.Content),
			})
		default:
			out = append(out, models.Message{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	return out, nil
}

func renderAssistant(msg ChatMessage) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}

	var b strings.Builder
	if strings.TrimSpace(msg.Content) != "" {
		b.WriteString(msg.Content)
	}
	for _, call := range msg.ToolCalls {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Function call %s", call.Function.Name)
		if call.ID != "" {
			fmt.Fprintf(&b, " (id %s)", call.ID)
		}
		fmt.Fprintf(&b, " with arguments: %s", call.Function.Arguments)
	}
	return b.String()
}

func renderToolResult(callID, name, content string) string {
	var b strings.Builder
	b.WriteString("Function result")
	if name != "" {
		fmt.Fprintf(&b, " of %s", name)
	}
	if callID != "" {
		fmt.Fprintf(&b, " (id %s)", callID)
	}
	b.WriteString(": ")
	b.WriteString(content)
	return b.String()
}
