package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
)

// RunAPI is the part of the remote service the Relay talks to.
type RunAPI interface {
	SearchAssistants(ctx context.Context) ([]models.Assistant, error)
	StreamRun(ctx context.Context, threadID string, payload models.RunPayload) iter.Seq2[models.StreamEvent, error]
}

// Relay opens streaming runs and forwards the fragments meant for the user to a callback.
//
// The assistant invoked by the runs is resolved once and shared by every run of the process until it is
// invalidated, either explicitly or because the server no longer knows it.
type Relay struct {
	runs RunAPI

	mu          *sync.Mutex
	assistantID *string

	logger *slog.Logger
}

// RunRequest describes one run of the Relay.
type RunRequest struct {
	ThreadID string
	Input    models.Input

	// Resume starts the run with ResumeContent as the resume value of an interrupted thread instead of
	// Input. A resume without content falls back to a fresh run.
	Resume        bool
	ResumeContent string

	// OnFragment receives every accepted content fragment, in stream order.
	OnFragment func(string)
	// Flag gates fragments of fresh runs. A nil Flag is replaced by a closed one.
	Flag *models.PassFlag
}

// RunError is returned when the server reports an error inside the run stream.
type RunError struct {
	Name    string `json:"error"`
	Message string `json:"message"`
}

const errLoggerKey = "err"

// ErrNoAssistantFound is returned when the server has no registered assistant.
var ErrNoAssistantFound = errors.New("no assistant found")

// NewRelay creates a Relay on top of the given run API.
func NewRelay(runs RunAPI, logger *slog.Logger) Relay {
	return Relay{
		runs:        runs,
		mu:          &sync.Mutex{},
		assistantID: new(string),
		logger:      logger.With(slog.String("module", "relay")),
	}
}

func (e *RunError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("run failed: %s", e.Message)
	}
	return fmt.Sprintf("run failed: %s: %s", e.Name, e.Message)
}

// InvalidateAssistant drops the cached assistant, so the next run searches the registry again.
func (r Relay) InvalidateAssistant() {
	r.mu.Lock()
	defer r.mu.Unlock()

	*r.assistantID = ""
}

func (r Relay) assistant(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if *r.assistantID != "" {
		return *r.assistantID, nil
	}

	assistants, err := r.runs.SearchAssistants(ctx)
	if err != nil {
		return "", err
	}
	if len(assistants) == 0 || assistants[0].AssistantID == "" {
		return "", ErrNoAssistantFound
	}

	*r.assistantID = assistants[0].AssistantID
	r.logger.Info("Using assistant",
		slog.String("assistantID", assistants[0].AssistantID),
		slog.String("graphID", assistants[0].GraphID))

	return assistants[0].AssistantID, nil
}

// Run opens a streaming run on the request's thread and consumes it until the stream ends, the visible
// answer finishes, or an error occurs. Runs always pre-empt any run still in flight on the same thread.
//
// On a resumed run, every non-tool chunk produced by the agent node is forwarded. On a fresh run, tool
// chunks are dropped, each worker marker toggles req.Flag, and non-empty content is forwarded only while
// the flag is on; a chunk finishing with "stop" while the flag is on ends the run.
func (r Relay) Run(ctx context.Context, req RunRequest) error {
	assistantID, err := r.assistant(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve assistant: %w", err)
	}

	flag := req.Flag
	if flag == nil {
		flag = &models.PassFlag{}
	}
	onFragment := req.OnFragment
	if onFragment == nil {
		onFragment = func(string) {}
	}

	resume := req.Resume && req.ResumeContent != ""

	payload := models.RunPayload{
		AssistantID:       assistantID,
		StreamMode:        []string{models.StreamModeMessagesTuple},
		MultitaskStrategy: models.MultitaskStrategyInterrupt,
	}
	if resume {
		payload.Command = &models.Command{Resume: req.ResumeContent}
	} else {
		input := req.Input
		payload.Input = &input
	}

	r.logger.Debug("Starting run",
		slog.String("threadID", req.ThreadID),
		slog.Bool("resume", resume))

	for ev, err := range r.runs.StreamRun(ctx, req.ThreadID, payload) {
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.InvalidateAssistant()
			}
			return fmt.Errorf("failed to stream run: %w", err)
		}

		switch ev.Event {
		case models.EventMessages:
		case models.EventError:
			return runError(ev.Data)
		default:
			continue
		}

		chunk, metadata, err := ev.MessageTuple()
		if err != nil {
			return err
		}
		if chunk.Type == models.ChunkTypeTool {
			continue
		}

		if resume {
			if metadata.LangGraphNode == models.NodeAgent && chunk.Content != "" {
				onFragment(string(chunk.Content))
			}
			continue
		}

		if chunk.WorkerMarker() {
			flag.Toggle()
		}
		if chunk.ResponseMetadata.FinishReason == models.FinishReasonStop && flag.On() {
			r.logger.Debug("Run finished", slog.String("threadID", req.ThreadID))
			return nil
		}
		if flag.On() && chunk.Content != "" {
			onFragment(string(chunk.Content))
		}
	}

	return nil
}

func runError(data json.RawMessage) error {
	var e RunError
	if err := json.Unmarshal(data, &e); err != nil {
		return &RunError{Message: string(data)}
	}
	return &e
}
