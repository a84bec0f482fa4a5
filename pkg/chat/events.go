package chat

// PlaceholderItemID is the sentinel item ID carried by in-flight model
// output before the store has assigned a real identifier. Every stream
// rewrites it to one resolved ID per run before events leave the server.
const PlaceholderItemID = "__fake_id__"

// Stream event types
const (
	EventItemAdded   = "item.added"
	EventItemUpdated = "item.updated"
	EventItemDone    = "item.done"
	EventToolCall    = "tool.call"
	EventToolResult  = "tool.result"
	EventError       = "error"
)

// StreamEvent is one event on a response stream
type StreamEvent struct {
	Type     string       `json:"type"`
	ItemID   string       `json:"item_id,omitempty"`
	ThreadID string       `json:"thread_id,omitempty"`
	Role     string       `json:"role,omitempty"`
	Delta    string       `json:"delta,omitempty"`
	Content  string       `json:"content,omitempty"`
	Tool     string       `json:"tool,omitempty"`
	Err      *StreamError `json:"error,omitempty"`
}
