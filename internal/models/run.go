package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Input is the payload of a fresh run: the messages appended to the thread before the agent runs.
type Input struct {
	Messages []InputMessage `json:"messages"`
}

// InputMessage is a single message of an Input.
type InputMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Command resumes an interrupted thread with the given value instead of appending new input.
type Command struct {
	Resume string `json:"resume"`
}

// RunPayload is the body of a run-streaming request. Input is sent as null when the run resumes an
// interrupted thread through Command.
type RunPayload struct {
	AssistantID       string   `json:"assistant_id"`
	Input             *Input   `json:"input"`
	Command           *Command `json:"command,omitempty"`
	StreamMode        []string `json:"stream_mode"`
	MultitaskStrategy string   `json:"multitask_strategy"`
}

const (
	// StreamModeMessagesTuple makes the remote service emit every model token as a [chunk, metadata]
	// tuple.
	StreamModeMessagesTuple = "messages-tuple"
	// MultitaskStrategyInterrupt makes a new run pre-empt any run still in flight on the same thread.
	MultitaskStrategyInterrupt = "interrupt"
)

// Event kinds of a run stream.
const (
	EventMetadata = "metadata"
	EventMessages = "messages"
	EventError    = "error"
	EventEnd      = "end"
)

// StreamEvent is one server-sent event of a run stream.
type StreamEvent struct {
	Event string
	Data  json.RawMessage
}

// MessageChunk is the message part of a "messages" event: a token chunk, a complete message, or a tool
// message.
type MessageChunk struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Content          MessageContent   `json:"content"`
	AdditionalKwargs AdditionalKwargs `json:"additional_kwargs"`
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
}

// AdditionalKwargs carries provider specific fields of a chunk. Parsed holds the structured output the
// agent attaches to its messages, if any.
type AdditionalKwargs struct {
	Parsed json.RawMessage `json:"parsed"`
}

// ResponseMetadata carries the provider response fields of a chunk.
type ResponseMetadata struct {
	FinishReason string `json:"finish_reason"`
}

// ChunkMetadata is the metadata part of a "messages" event.
type ChunkMetadata struct {
	LangGraphNode string `json:"langgraph_node"`
}

const (
	// ChunkTypeTool marks tool result messages, which are never shown.
	ChunkTypeTool = "tool"
	// NodeAgent is the graph node producing the user-facing answer.
	NodeAgent = "agent"
	// FinishReasonStop marks the last chunk of a model response.
	FinishReasonStop = "stop"
)

// MessageTuple decodes the [chunk, metadata] data of a "messages" event.
func (e StreamEvent) MessageTuple() (MessageChunk, ChunkMetadata, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(e.Data, &tuple); err != nil {
		return MessageChunk{}, ChunkMetadata{}, fmt.Errorf("failed to unmarshal message tuple: %w", err)
	}
	if len(tuple) != 2 {
		return MessageChunk{}, ChunkMetadata{}, fmt.Errorf("message tuple should contain 2 elements, got %d", len(tuple))
	}

	var metadata ChunkMetadata
	if err := json.Unmarshal(tuple[1], &metadata); err != nil {
		return MessageChunk{}, ChunkMetadata{}, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
	}

	// Tool messages are never shown, so only their type is decoded: their content can be any JSON.
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(tuple[0], &head); err != nil {
		return MessageChunk{}, ChunkMetadata{}, fmt.Errorf("failed to unmarshal message chunk: %w", err)
	}
	if head.Type == ChunkTypeTool {
		return MessageChunk{ID: head.ID, Type: head.Type}, metadata, nil
	}

	var chunk MessageChunk
	if err := json.Unmarshal(tuple[0], &chunk); err != nil {
		return MessageChunk{}, ChunkMetadata{}, fmt.Errorf("failed to unmarshal message chunk: %w", err)
	}
	return chunk, metadata, nil
}

// WorkerMarker reports whether the chunk carries a truthy "worker" field in its parsed structured output.
// The marker separates the agent's internal worker trace from its visible answer.
func (c MessageChunk) WorkerMarker() bool {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(c.AdditionalKwargs.Parsed, &parsed); err != nil {
		return false
	}
	return truthy(parsed["worker"])
}

// truthy follows JavaScript truthiness for a JSON value: null, false, 0, "" and an absent value are
// false, everything else is true.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return true
}

// MessageContent is the text of a chunk. The remote service sends either a plain string or a list of
// content blocks; the text of the blocks is concatenated in order and other block kinds are dropped.
type MessageContent string

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent(s)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content should be a string or a list of blocks: %w", err)
	}

	var sb strings.Builder
	for _, part := range parts {
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var block contentBlock
		if err := json.Unmarshal(part, &block); err != nil {
			return fmt.Errorf("failed to unmarshal content block: %w", err)
		}
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	*c = MessageContent(sb.String())
	return nil
}
