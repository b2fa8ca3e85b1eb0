package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
	Failed         bool
}

type homePageData struct {
	ThreadID string
	Title    string
	Error    string
	Messages []message
}

const defaultTitle = "LangGraph Chatbot"

// HandleHome renders the chat page. Without a thread_id query parameter, or with one the server doesn't
// know, it opens a new conversation: a thread id is generated and the thread is created on the remote
// service. A creation failure doesn't fail the request; the page shows an error banner instead and the
// thread is created again on the first message.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var conversation models.Conversation
	var err error

	threadID := r.URL.Query().Get("thread_id")
	if threadID != "" {
		conversation, err = m.store.Conversation(r.Context(), threadID)
	}
	if threadID == "" || err != nil {
		conversation, err = m.newConversation(r)
		if err != nil {
			m.logger.Error("Failed to create conversation", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	messages, err := m.store.Messages(r.Context(), conversation.ThreadID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("threadID", conversation.ThreadID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msgs := make([]message, len(messages))
	for i := range messages {
		msgs[i], err = renderMessage(messages[i])
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("message", fmt.Sprintf("%+v", messages[i])),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	title := conversation.Title
	if title == "" {
		title = defaultTitle
	}

	data := homePageData{
		ThreadID: conversation.ThreadID,
		Title:    title,
		Error:    conversation.Error,
		Messages: msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) newConversation(r *http.Request) (models.Conversation, error) {
	conversation := models.Conversation{
		ThreadID: m.sessions.GenerateID(),
	}

	if _, err := m.sessions.CreateThread(r.Context(), conversation.ThreadID); err != nil {
		m.logger.Error("Failed to create thread",
			slog.String("threadID", conversation.ThreadID),
			slog.String(errLoggerKey, err.Error()))
		conversation.Error = connectFailedMessage
	}

	if err := m.store.AddConversation(r.Context(), conversation); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to add conversation: %w", err)
	}

	return conversation, nil
}

// renderMessage prepares a message for the templates. Assistant content is Markdown rendered to HTML,
// human content is shown as typed.
func renderMessage(msg models.Message) (message, error) {
	content := template.HTML(template.HTMLEscapeString(msg.Content))
	if msg.Role == models.RoleAssistant {
		rendered, err := models.RenderMarkdown(msg.Content)
		if err != nil {
			return message{}, err
		}
		content = template.HTML(rendered)
	}

	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        content,
		Timestamp:      msg.Timestamp,
		StreamingState: msg.StreamingState(),
		Failed:         msg.Failed,
	}, nil
}
