package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
)

// ThreadEnsurer makes sure a thread exists before a run starts on it.
type ThreadEnsurer interface {
	EnsureThread(ctx context.Context, threadID string) (models.Thread, error)
}

// Runner consumes one streaming run.
type Runner interface {
	Run(ctx context.Context, req RunRequest) error
}

// Processor handles one conversation turn: it ensures the thread exists, then either starts a fresh run
// with the user's input or resumes the interrupted thread with it.
type Processor struct {
	threads ThreadEnsurer
	runner  Runner

	logger *slog.Logger
}

// ErrEmptyInput is returned when an interrupted thread has to be resumed with an input holding no
// message.
var ErrEmptyInput = errors.New("input has no message")

// NewProcessor creates a Processor.
func NewProcessor(threads ThreadEnsurer, runner Runner, logger *slog.Logger) Processor {
	return Processor{
		threads: threads,
		runner:  runner,
		logger:  logger.With(slog.String("module", "processor")),
	}
}

// ProcessMessage sends input to the thread and forwards the accepted fragments of the response to
// onFragment. flag is reset before anything else happens; a nil flag is replaced by a fresh one. Errors
// of the thread or run phase are returned as is.
func (p Processor) ProcessMessage(
	ctx context.Context,
	threadID string,
	input models.Input,
	onFragment func(string),
	flag *models.PassFlag,
) error {
	if flag == nil {
		flag = &models.PassFlag{}
	}
	flag.Reset()

	p.logger.Debug("Ensuring thread", slog.String("threadID", threadID))

	thread, err := p.threads.EnsureThread(ctx, threadID)
	if err != nil {
		return err
	}

	req := RunRequest{
		ThreadID:   thread.ThreadID,
		Input:      input,
		OnFragment: onFragment,
		Flag:       flag,
	}
	if req.ThreadID == "" {
		req.ThreadID = threadID
	}

	if thread.Status.Interrupted() {
		if len(input.Messages) == 0 {
			return ErrEmptyInput
		}
		req.Resume = true
		req.ResumeContent = input.Messages[0].Content
	}

	p.logger.Debug("Streaming",
		slog.String("threadID", req.ThreadID),
		slog.String("threadStatus", string(thread.Status)),
		slog.Bool("resume", req.Resume))

	if err := p.runner.Run(ctx, req); err != nil {
		return err
	}

	p.logger.Debug("Turn done", slog.String("threadID", req.ThreadID))

	return nil
}
