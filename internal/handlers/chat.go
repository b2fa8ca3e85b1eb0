package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
	titleSSEType        = sse.Type("title")
	errorSSEType        = sse.Type("chatError")
)

// HandleChats processes chat interactions through HTTP POST requests. It accepts the user message through
// the "message" form field and the conversation through the "thread_id" field, stores the message with a
// placeholder for the answer, and starts the turn asynchronously.
//
// The answer is streamed through Server-Sent Events on the conversation topic, each event carrying the
// whole rendered assistant message. The response body holds the rendered user message and placeholder.
//
// The handler returns 405 for methods other than POST, 400 when the message or the thread id is missing,
// and 409 while a previous turn of the same conversation is still streaming.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	threadID := r.FormValue("thread_id")
	if threadID == "" {
		m.logger.Error("Thread ID is required")
		http.Error(w, "Thread ID is required", http.StatusBadRequest)
		return
	}

	conversation, err := m.conversation(r.Context(), threadID)
	if err != nil {
		m.logger.Error("Failed to get conversation",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !m.busy.acquire(threadID) {
		m.logger.Warn("Conversation is busy", slog.String("threadID", threadID))
		http.Error(w, "A message is still being answered", http.StatusConflict)
		return
	}
	// From here on the thread is released either here on failure or by the chat goroutine.
	started := false
	defer func() {
		if !started {
			m.busy.release(threadID)
		}
	}()

	// We create two messages: user's input and a placeholder for AI response
	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleHuman,
		Content:   msg,
		Timestamp: time.Now(),
	}
	um.ID, err = m.store.AddMessage(r.Context(), threadID, um)
	if err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		Streaming: true,
	}
	am.ID, err = m.store.AddMessage(r.Context(), threadID, am)
	if err != nil {
		m.logger.Error("Failed to add AI message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for _, mm := range []models.Message{um, am} {
		rm, err := renderMessage(mm)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("message", fmt.Sprintf("%+v", mm)),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := m.templates.ExecuteTemplate(w, templateName(mm.Role), rm); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	started = true
	go m.chat(threadID, msg, am)

	if conversation.Title == "" && m.titleGenerator != nil {
		go m.generateTitle(conversation, msg)
	}
}

// conversation returns the conversation of threadID, registering it if the server doesn't know it, as
// after a restart.
func (m Main) conversation(ctx context.Context, threadID string) (models.Conversation, error) {
	conversation, err := m.store.Conversation(ctx, threadID)
	if err == nil {
		return conversation, nil
	}

	conversation = models.Conversation{ThreadID: threadID}
	if err := m.store.AddConversation(ctx, conversation); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to add conversation: %w", err)
	}
	return conversation, nil
}

// chat runs one turn of the conversation and streams the answer into aiMsg. A failure never escapes:
// it is logged, surfaced to the page as an error event, and marks aiMsg as failed while keeping the
// fragments received so far.
func (m Main) chat(threadID, userMessage string, aiMsg models.Message) {
	// Ensure the browser stops waiting for this message on function exit, after the thread is released.
	defer m.publish(threadID, closeMessageSSEType, aiMsg.ID)
	defer m.busy.release(threadID)

	input := models.Input{
		Messages: []models.InputMessage{
			{
				Role:    models.RoleHuman,
				Content: userMessage,
			},
		},
	}
	flag := &models.PassFlag{}

	err := m.processor.ProcessMessage(context.Background(), threadID, input, func(fragment string) {
		aiMsg.Content += fragment
		m.updateMessage(threadID, aiMsg)
	}, flag)

	aiMsg.Streaming = false
	if err != nil {
		m.logger.Error("Failed to process message",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		aiMsg.Failed = true
		m.publish(threadID, errorSSEType, sendFailedMessage)
	} else {
		m.clearConversationError(threadID)
	}
	m.updateMessage(threadID, aiMsg)
}

// clearConversationError drops the banner left by a failed thread creation once a turn went through.
func (m Main) clearConversationError(threadID string) {
	conversation, err := m.store.Conversation(context.Background(), threadID)
	if err != nil || conversation.Error == "" {
		return
	}

	conversation.Error = ""
	if err := m.store.UpdateConversation(context.Background(), conversation); err != nil {
		m.logger.Error("Failed to clear conversation error",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// updateMessage stores the assistant message and publishes its rendered form to the page.
func (m Main) updateMessage(threadID string, aiMsg models.Message) {
	if err := m.store.UpdateMessage(context.Background(), threadID, aiMsg); err != nil {
		m.logger.Error("Failed to update message",
			slog.String("message", fmt.Sprintf("%+v", aiMsg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	rm, err := renderMessage(aiMsg)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", aiMsg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_message", rm); err != nil {
		m.logger.Error("Failed to execute ai_message template", slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publish(threadID, messagesSSEType, sb.String())
}

func (m Main) generateTitle(conversation models.Conversation, message string) {
	title, err := m.titleGenerator.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating conversation title",
			slog.String("message", message),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if title == "" {
		return
	}

	// The conversation may have changed while the title was generated.
	if current, err := m.store.Conversation(context.Background(), conversation.ThreadID); err == nil {
		conversation = current
	}
	conversation.Title = title
	if err := m.store.UpdateConversation(context.Background(), conversation); err != nil {
		m.logger.Error("Failed to update conversation title",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publish(conversation.ThreadID, titleSSEType, title)
}

func (m Main) publish(threadID string, typ sse.EventType, data string) {
	msg := sse.Message{
		Type: typ,
	}
	msg.AppendData(data)

	if err := m.sseSrv.Publish(&msg, threadTopic(threadID)); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func templateName(role models.Role) string {
	if role == models.RoleAssistant {
		return "ai_message"
	}
	return "user_message"
}
