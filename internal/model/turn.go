package model

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one entry in the model-visible conversation. The ordered turn
// list is the serializable continuation used to suspend and resume a run:
// every assistant tool call must be paired with a tool result in a
// subsequent user turn before the conversation can continue.
type Turn struct {
	Role        TurnRole     `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a structured tool invocation emitted by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult carries an adapter's response back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CloneTranscript returns a deep-enough copy of a turn list so that a
// persisted step snapshot is not aliased by later loop mutations.
func CloneTranscript(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), out[i].ToolCalls...)
		}
		if len(out[i].ToolResults) > 0 {
			out[i].ToolResults = append([]ToolResult(nil), out[i].ToolResults...)
		}
	}
	return out
}
