package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LangGraph is an HTTP client of a LangGraph server. It covers the thread, assistant and run-streaming
// endpoints used by the chat.
//
// LangGraph never retries a request: every call maps to exactly one HTTP request, and a failed request
// is reported to the caller as is. Retrying thread creation or run creation behind the caller's back
// would duplicate their side effects on the remote service.
type LangGraph struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// APIError is returned when the LangGraph server answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

type langGraphErrorResponse struct {
	Detail string `json:"detail"`
}

type createThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

type searchAssistantsRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	assistantSearchLimit = 10

	// Complete messages of the "messages-tuple" mode can exceed the default 64KB event limit.
	maxStreamEventSize = 1 << 20
)

// ErrNotFound matches an APIError with a 404 status.
var ErrNotFound = errors.New("not found")

// NewLangGraph creates a LangGraph client for the server at baseURL. A nil client uses a plain
// http.Client without timeout, since run streams stay open for the whole agent run.
func NewLangGraph(baseURL string, client *http.Client, logger *slog.Logger) (LangGraph, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return LangGraph{}, fmt.Errorf("invalid langgraph url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return LangGraph{}, fmt.Errorf("invalid langgraph url %q: scheme and host are required", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}

	return LangGraph{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "langgraph")),
	}, nil
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("langgraph: status %d", e.StatusCode)
	}
	return fmt.Sprintf("langgraph: status %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// GetThread fetches the thread with the given id. A missing thread yields an error matching ErrNotFound.
func (l LangGraph) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	var thread models.Thread
	if err := l.doJSON(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &thread); err != nil {
		return models.Thread{}, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}
	return thread, nil
}

// CreateThread creates a thread with the given id.
func (l LangGraph) CreateThread(ctx context.Context, threadID string) (models.Thread, error) {
	var thread models.Thread
	if err := l.doJSON(ctx, http.MethodPost, "/threads", createThreadRequest{ThreadID: threadID}, &thread); err != nil {
		return models.Thread{}, fmt.Errorf("failed to create thread %s: %w", threadID, err)
	}
	return thread, nil
}

// SearchAssistants lists the assistants registered on the server, in the server's order.
func (l LangGraph) SearchAssistants(ctx context.Context) ([]models.Assistant, error) {
	var assistants []models.Assistant
	req := searchAssistantsRequest{Limit: assistantSearchLimit}
	if err := l.doJSON(ctx, http.MethodPost, "/assistants/search", req, &assistants); err != nil {
		return nil, fmt.Errorf("failed to search assistants: %w", err)
	}
	return assistants, nil
}

// StreamRun starts a run on the given thread and returns an iterator over the events of its stream. The
// iterator yields events in the order the server sends them and stops after the first error. Ending the
// iteration early closes the underlying connection.
func (l LangGraph) StreamRun(
	ctx context.Context,
	threadID string,
	payload models.RunPayload,
) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		reqJSON, err := json.Marshal(payload)
		if err != nil {
			yield(models.StreamEvent{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		l.logger.Debug("Run request",
			slog.String("threadID", threadID),
			slog.String("req", string(reqJSON)))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			l.baseURL+"/threads/"+url.PathEscape(threadID)+"/runs/stream", bytes.NewReader(reqJSON))
		if err != nil {
			yield(models.StreamEvent{}, fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := l.client.Do(req)
		if err != nil {
			yield(models.StreamEvent{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(models.StreamEvent{}, fmt.Errorf("error starting run: %w", apiError(resp)))
			return
		}

		for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxStreamEventSize}) {
			if err != nil {
				yield(models.StreamEvent{}, fmt.Errorf("error reading response: %w", err))
				return
			}
			if !yield(models.StreamEvent{
				Event: ev.Type,
				Data:  json.RawMessage(ev.Data),
			}, nil) {
				return
			}
		}
	}
}

func (l LangGraph) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return e
	}

	var res langGraphErrorResponse
	if err := json.Unmarshal(body, &res); err == nil && res.Detail != "" {
		e.Message = res.Detail
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}
