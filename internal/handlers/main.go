package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	langgraphwebui "github.com/MegaGrindStone/langgraph-web-ui"
	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// MessageProcessor sends one user turn to the remote agent. It forwards every fragment of the answer to
// onFragment as it arrives and returns once the turn ended.
type MessageProcessor interface {
	ProcessMessage(
		ctx context.Context,
		threadID string,
		input models.Input,
		onFragment func(string),
		flag *models.PassFlag,
	) error
}

// ThreadCreator opens the remote thread of a new conversation.
type ThreadCreator interface {
	GenerateID() string
	CreateThread(ctx context.Context, threadID string) (models.Thread, error)
}

// TitleGenerator represents an interface for generating conversation titles from the first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for keeping the UI-side state of conversations: their metadata and the
// messages shown in the page.
type Store interface {
	AddConversation(ctx context.Context, conversation models.Conversation) error
	Conversation(ctx context.Context, threadID string) (models.Conversation, error)
	UpdateConversation(ctx context.Context, conversation models.Conversation) error

	Messages(ctx context.Context, threadID string) ([]models.Message, error)
	AddMessage(ctx context.Context, threadID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, threadID string, message models.Message) error
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and interactions between the remote agent and the Store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	sessions       ThreadCreator
	processor      MessageProcessor
	titleGenerator TitleGenerator
	store          Store

	busy *busyThreads

	logger *slog.Logger
}

type busyThreads struct {
	mu      sync.Mutex
	threads map[string]struct{}
}

const (
	errLoggerKey = "err"

	connectFailedMessage = "Unable to connect to the server. Please check your connection."
	sendFailedMessage    = "Unable to send the message. Please try again."
)

// NewMain creates a new Main instance. The titleGenerator is optional; without it conversations keep the
// default title. It initializes the SSE server and parses the required HTML templates from the embedded
// filesystem. Each SSE client is subscribed to the default topic and to the topic of the conversation
// given by its thread_id query parameter.
func NewMain(
	sessions ThreadCreator,
	processor MessageProcessor,
	titleGenerator TitleGenerator,
	store Store,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		langgraphwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	logger = logger.With(slog.String("module", "main"))

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(_ http.ResponseWriter, r *http.Request) ([]string, bool) {
				topics := []string{sse.DefaultTopic}

				threadID := r.URL.Query().Get("thread_id")
				if threadID != "" {
					topics = append(topics, threadTopic(threadID))
				}

				return topics, true
			},
			Logger: func(*http.Request) *slog.Logger {
				return logger
			},
		},
		templates:      tmpl,
		sessions:       sessions,
		processor:      processor,
		titleGenerator: titleGenerator,
		store:          store,
		busy:           &busyThreads{threads: make(map[string]struct{})},
		logger:         logger,
	}, nil
}

func threadTopic(threadID string) string {
	return fmt.Sprintf("thread-%s", threadID)
}

// HandleSSE serves the server-sent events stream the page listens to.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE events need data to be dispatched by the browser
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// acquire marks the thread as streaming. It returns false if a turn is already in progress on it.
func (b *busyThreads) acquire(threadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.threads[threadID]; ok {
		return false
	}
	b.threads[threadID] = struct{}{}
	return true
}

func (b *busyThreads) release(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.threads, threadID)
}
