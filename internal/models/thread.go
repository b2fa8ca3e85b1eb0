package models

import "encoding/json"

// Thread is the server-side conversation context of the remote service, keyed by an id generated on
// this side.
type Thread struct {
	ThreadID string          `json:"thread_id"`
	Status   ThreadStatus    `json:"status"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ThreadStatus is the status the remote service reports for a thread. The empty value stands for a
// missing (null) status.
type ThreadStatus string

const (
	ThreadStatusIdle        ThreadStatus = "idle"
	ThreadStatusBusy        ThreadStatus = "busy"
	ThreadStatusError       ThreadStatus = "error"
	ThreadStatusInterrupted ThreadStatus = "interrupted"
)

// Interrupted reports whether a prior run left the thread waiting for a resume input. Every status other
// than ThreadStatusInterrupted, including unknown ones, counts as normal.
func (s ThreadStatus) Interrupted() bool {
	return s == ThreadStatusInterrupted
}

// Assistant is an agent graph registered on the remote service.
type Assistant struct {
	AssistantID string `json:"assistant_id"`
	GraphID     string `json:"graph_id"`
	Name        string `json:"name"`
}
