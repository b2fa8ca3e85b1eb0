package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"testing"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
	"github.com/MegaGrindStone/langgraph-web-ui/internal/services"
)

type fakeRunAPI struct {
	assistants []models.Assistant
	searchErr  error
	searches   int

	events    []models.StreamEvent
	streamErr error
	// consumed counts the events the consumer asked for.
	consumed int

	threadIDs []string
	payloads  []models.RunPayload
}

type chunkOption func(map[string]any)

func (f *fakeRunAPI) SearchAssistants(context.Context) ([]models.Assistant, error) {
	f.searches++
	return f.assistants, f.searchErr
}

func (f *fakeRunAPI) StreamRun(
	_ context.Context,
	threadID string,
	payload models.RunPayload,
) iter.Seq2[models.StreamEvent, error] {
	f.threadIDs = append(f.threadIDs, threadID)
	f.payloads = append(f.payloads, payload)

	return func(yield func(models.StreamEvent, error) bool) {
		for _, ev := range f.events {
			f.consumed++
			if !yield(ev, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(models.StreamEvent{}, f.streamErr)
		}
	}
}

func newFakeRunAPI(events ...models.StreamEvent) *fakeRunAPI {
	return &fakeRunAPI{
		assistants: []models.Assistant{{AssistantID: "assistant-1"}},
		events:     events,
	}
}

func withWorker() chunkOption {
	return func(c map[string]any) {
		c["additional_kwargs"] = map[string]any{"parsed": map[string]any{"worker": true}}
	}
}

func withFinish(reason string) chunkOption {
	return func(c map[string]any) {
		c["response_metadata"] = map[string]any{"finish_reason": reason}
	}
}

func withType(typ string) chunkOption {
	return func(c map[string]any) {
		c["type"] = typ
	}
}

func withNode(node string) chunkOption {
	return func(c map[string]any) {
		c["$node"] = node
	}
}

// chunk builds a "messages" event produced by the agent node, unless withNode says otherwise.
func chunk(t *testing.T, content string, opts ...chunkOption) models.StreamEvent {
	t.Helper()

	c := map[string]any{"type": "AIMessageChunk", "content": content}
	for _, opt := range opts {
		opt(c)
	}

	node := models.NodeAgent
	if n, ok := c["$node"].(string); ok {
		node = n
		delete(c, "$node")
	}

	b, err := json.Marshal([]any{c, map[string]any{"langgraph_node": node}})
	if err != nil {
		t.Fatal(err)
	}
	return models.StreamEvent{Event: models.EventMessages, Data: b}
}

func runRelay(t *testing.T, api *fakeRunAPI, req services.RunRequest) ([]string, error) {
	t.Helper()

	var fragments []string
	req.OnFragment = func(s string) {
		fragments = append(fragments, s)
	}
	if req.ThreadID == "" {
		req.ThreadID = "t-1"
	}

	relay := services.NewRelay(api, testLogger())
	err := relay.Run(context.Background(), req)
	return fragments, err
}

func TestRelayFreshRunScripted(t *testing.T) {
	api := newFakeRunAPI(
		chunk(t, "A"),
		chunk(t, "A2"),
		chunk(t, "", withWorker()),
		chunk(t, "B"),
		chunk(t, "", withFinish("stop")),
		chunk(t, "C"),
	)
	flag := &models.PassFlag{}

	fragments, err := runRelay(t, api, services.RunRequest{Flag: flag})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !slices.Equal(fragments, []string{"B"}) {
		t.Errorf("Run() forwarded %q, want [B]", fragments)
	}
	if !flag.On() {
		t.Error("flag should be on after a single worker marker")
	}
	if api.consumed != 5 {
		t.Errorf("Run() consumed %d events, want 5: the stop chunk ends the run", api.consumed)
	}
}

func TestRelayFreshRunAlternation(t *testing.T) {
	api := newFakeRunAPI(
		chunk(t, "A"),
		chunk(t, "", withWorker()),
		chunk(t, "B"),
		chunk(t, "", withWorker()),
		chunk(t, "C"),
		chunk(t, "D", withWorker()),
		chunk(t, "D2"),
		chunk(t, "", withFinish("stop")),
		chunk(t, "E"),
	)

	fragments, err := runRelay(t, api, services.RunRequest{Flag: &models.PassFlag{}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"B", "D", "D2"}
	if !slices.Equal(fragments, want) {
		t.Errorf("Run() forwarded %q, want %q", fragments, want)
	}
}

func TestRelayStopWhileClosedDoesNotEndRun(t *testing.T) {
	api := newFakeRunAPI(
		chunk(t, "plan", withFinish("stop")),
		chunk(t, "", withWorker()),
		chunk(t, "answer"),
		chunk(t, "", withFinish("length")),
		chunk(t, "more"),
	)

	fragments, err := runRelay(t, api, services.RunRequest{Flag: &models.PassFlag{}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"answer", "more"}
	if !slices.Equal(fragments, want) {
		t.Errorf("Run() forwarded %q, want %q", fragments, want)
	}
	if api.consumed != len(api.events) {
		t.Errorf("Run() consumed %d events, want all %d", api.consumed, len(api.events))
	}
}

func TestRelayNeverForwardsToolChunks(t *testing.T) {
	tests := []struct {
		name   string
		resume bool
	}{
		{name: "Fresh run"},
		{name: "Resumed run", resume: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeRunAPI(
				chunk(t, "", withWorker()),
				chunk(t, "secret", withType(models.ChunkTypeTool)),
				chunk(t, "B"),
				// A tool chunk carrying a marker must not toggle the flag either.
				chunk(t, "x", withType(models.ChunkTypeTool), withWorker()),
				chunk(t, "C"),
			)

			fragments, err := runRelay(t, api, services.RunRequest{
				Flag:          &models.PassFlag{},
				Resume:        tt.resume,
				ResumeContent: "ok",
			})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			want := []string{"B", "C"}
			if !slices.Equal(fragments, want) {
				t.Errorf("Run() forwarded %q, want %q", fragments, want)
			}
		})
	}
}

func TestRelaySkipsToolChunksOfAnyShape(t *testing.T) {
	toolChunk := func(content string) models.StreamEvent {
		return models.StreamEvent{
			Event: models.EventMessages,
			Data:  json.RawMessage(`[{"type":"tool","content":` + content + `},{"langgraph_node":"tools"}]`),
		}
	}

	api := newFakeRunAPI(
		chunk(t, "", withWorker()),
		chunk(t, "B"),
		toolChunk(`{"rows":3}`),
		toolChunk(`42`),
		toolChunk(`[{"type":"image","source":{"data":"..."}}]`),
		chunk(t, "C"),
	)

	fragments, err := runRelay(t, api, services.RunRequest{Flag: &models.PassFlag{}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"B", "C"}
	if !slices.Equal(fragments, want) {
		t.Errorf("Run() forwarded %q, want %q", fragments, want)
	}
}

func TestRelayResume(t *testing.T) {
	api := newFakeRunAPI(
		models.StreamEvent{Event: models.EventMetadata, Data: json.RawMessage(`{"run_id":"run-1"}`)},
		chunk(t, "R1"),
		chunk(t, "S", withNode("supervisor")),
		chunk(t, "R2", withWorker()),
		chunk(t, "", withFinish("stop")),
		chunk(t, "R3", withFinish("stop")),
	)
	flag := &models.PassFlag{}

	fragments, err := runRelay(t, api, services.RunRequest{
		ThreadID: "t-9",
		Input: models.Input{
			Messages: []models.InputMessage{{Role: models.RoleHuman, Content: "approve"}},
		},
		Resume:        true,
		ResumeContent: "approve",
		Flag:          flag,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"R1", "R2", "R3"}
	if !slices.Equal(fragments, want) {
		t.Errorf("Run() forwarded %q, want %q", fragments, want)
	}
	if flag.On() {
		t.Error("resumed run should not touch the flag")
	}

	payload := api.payloads[0]
	if payload.Input != nil {
		t.Errorf("resume payload input = %+v, want nil", payload.Input)
	}
	if payload.Command == nil || payload.Command.Resume != "approve" {
		t.Errorf("resume payload command = %+v, want resume approve", payload.Command)
	}
	if api.threadIDs[0] != "t-9" {
		t.Errorf("run thread = %q, want t-9", api.threadIDs[0])
	}
}

func TestRelayResumeWithoutContentRunsFresh(t *testing.T) {
	api := newFakeRunAPI(chunk(t, "A"))
	input := models.Input{Messages: []models.InputMessage{{Role: models.RoleHuman, Content: "hi"}}}

	fragments, err := runRelay(t, api, services.RunRequest{Input: input, Resume: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fragments) != 0 {
		t.Errorf("Run() forwarded %q, want nothing while the flag is off", fragments)
	}
	payload := api.payloads[0]
	if payload.Command != nil {
		t.Errorf("payload command = %+v, want nil", payload.Command)
	}
	if payload.Input == nil || payload.Input.Messages[0].Content != "hi" {
		t.Errorf("payload input = %+v, want the request input", payload.Input)
	}
	if payload.MultitaskStrategy != models.MultitaskStrategyInterrupt {
		t.Errorf("payload multitask strategy = %q, want interrupt", payload.MultitaskStrategy)
	}
	if !slices.Equal(payload.StreamMode, []string{models.StreamModeMessagesTuple}) {
		t.Errorf("payload stream mode = %v, want [messages-tuple]", payload.StreamMode)
	}
}

func TestRelayNilFlag(t *testing.T) {
	api := newFakeRunAPI(
		chunk(t, "hidden"),
		chunk(t, "", withWorker()),
		chunk(t, "shown"),
	)

	fragments, err := runRelay(t, api, services.RunRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(fragments, []string{"shown"}) {
		t.Errorf("Run() forwarded %q, want [shown]", fragments)
	}
}

func TestRelayErrors(t *testing.T) {
	transportErr := errors.New("connection reset")

	t.Run("Stream failure keeps earlier fragments", func(t *testing.T) {
		api := newFakeRunAPI(
			chunk(t, "", withWorker()),
			chunk(t, "partial"),
		)
		api.streamErr = transportErr

		fragments, err := runRelay(t, api, services.RunRequest{})
		if !errors.Is(err, transportErr) {
			t.Errorf("Run() error = %v, want %v", err, transportErr)
		}
		if !slices.Equal(fragments, []string{"partial"}) {
			t.Errorf("Run() forwarded %q, want [partial]", fragments)
		}
	})

	t.Run("Error event", func(t *testing.T) {
		api := newFakeRunAPI(
			models.StreamEvent{Event: models.EventError, Data: json.RawMessage(`{"error":"GraphRecursionError","message":"too deep"}`)},
			chunk(t, "never"),
		)

		_, err := runRelay(t, api, services.RunRequest{})

		var runErr *services.RunError
		if !errors.As(err, &runErr) {
			t.Fatalf("Run() error = %v, want RunError", err)
		}
		if runErr.Name != "GraphRecursionError" || runErr.Message != "too deep" {
			t.Errorf("RunError = %+v", runErr)
		}
	})

	t.Run("Malformed tuple", func(t *testing.T) {
		api := newFakeRunAPI(models.StreamEvent{Event: models.EventMessages, Data: json.RawMessage(`{"not":"a tuple"}`)})

		if _, err := runRelay(t, api, services.RunRequest{}); err == nil {
			t.Error("Run() should fail on a malformed message tuple")
		}
	})

	t.Run("No assistant", func(t *testing.T) {
		api := newFakeRunAPI(chunk(t, "A"))
		api.assistants = nil

		_, err := runRelay(t, api, services.RunRequest{})
		if !errors.Is(err, services.ErrNoAssistantFound) {
			t.Errorf("Run() error = %v, want ErrNoAssistantFound", err)
		}
		if len(api.payloads) != 0 {
			t.Error("Run() should not start a run without assistant")
		}
	})

	t.Run("Assistant search failure", func(t *testing.T) {
		api := newFakeRunAPI()
		api.searchErr = transportErr

		_, err := runRelay(t, api, services.RunRequest{})
		if !errors.Is(err, transportErr) {
			t.Errorf("Run() error = %v, want %v", err, transportErr)
		}
	})
}

func TestRelayAssistantCache(t *testing.T) {
	api := newFakeRunAPI()
	relay := services.NewRelay(api, testLogger())

	for i := range 3 {
		if err := relay.Run(context.Background(), services.RunRequest{ThreadID: fmt.Sprintf("t-%d", i)}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if api.searches != 1 {
		t.Errorf("assistant searches = %d, want 1", api.searches)
	}
	for _, p := range api.payloads {
		if p.AssistantID != "assistant-1" {
			t.Errorf("payload assistant = %q, want assistant-1", p.AssistantID)
		}
	}

	relay.InvalidateAssistant()
	api.assistants = []models.Assistant{{AssistantID: "assistant-2"}}
	if err := relay.Run(context.Background(), services.RunRequest{ThreadID: "t-3"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if api.searches != 2 {
		t.Errorf("assistant searches = %d, want 2 after invalidation", api.searches)
	}
	if got := api.payloads[len(api.payloads)-1].AssistantID; got != "assistant-2" {
		t.Errorf("payload assistant = %q, want assistant-2", got)
	}
}

func TestRelayInvalidatesAssistantOnNotFound(t *testing.T) {
	api := newFakeRunAPI()
	api.streamErr = &services.APIError{StatusCode: 404, Message: "Assistant not found"}
	relay := services.NewRelay(api, testLogger())

	err := relay.Run(context.Background(), services.RunRequest{ThreadID: "t-1"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Run() error = %v, want ErrNotFound", err)
	}

	api.streamErr = nil
	if err := relay.Run(context.Background(), services.RunRequest{ThreadID: "t-1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if api.searches != 2 {
		t.Errorf("assistant searches = %d, want 2", api.searches)
	}
}
