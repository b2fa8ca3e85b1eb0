package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Conversation represents the UI-side view of one remote thread. It is created when the home page is
// opened and lives as long as the process does; nothing about it is persisted.
type Conversation struct {
	ThreadID string
	Title    string

	// Error holds the banner text shown when the thread could not be created on initialization.
	Error string
}

// Message represents an individual entry of a conversation as the browser sees it. Assistant messages
// are built incrementally from streamed fragments, so Content grows while Streaming is true.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	// Streaming is true while fragments may still be appended to the message.
	Streaming bool
	// Failed marks an assistant message whose turn ended with an error. Content appended before the
	// failure is kept.
	Failed bool
}

// Role represents the author of a message.
type Role string

const (
	// RoleHuman represents a user-authored message. It is also the role sent to the remote service.
	RoleHuman Role = "human"
	// RoleAssistant represents a model-authored message.
	RoleAssistant Role = "assistant"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderMarkdown converts the Markdown content of an assistant message into HTML. Raw HTML inside the
// content is not rendered, so the output is safe to embed in the page.
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
