package models

// StreamingState values drive the cursor and placeholder shown next to a message in the browser.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)

// StreamingState derives the browser state of a message: an assistant message that is still streaming
// but has no content yet is loading.
func (m Message) StreamingState() string {
	if !m.Streaming {
		return StreamingStateEnded
	}
	if m.Content == "" {
		return StreamingStateLoading
	}
	return StreamingStateStreaming
}
