package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
)

// Memory implements the Store interface in process memory. It holds the UI-side transcript of every
// conversation opened since the process started; nothing survives a restart.
type Memory struct {
	mu            *sync.RWMutex
	conversations map[string]*memoryConversation
}

type memoryConversation struct {
	conversation models.Conversation
	messages     []models.Message
	sequence     uint64
}

// ErrConversationNotFound is returned when no conversation is known for a thread id.
var ErrConversationNotFound = errors.New("conversation not found")

// NewMemory creates an empty Memory store.
func NewMemory() Memory {
	return Memory{
		mu:            &sync.RWMutex{},
		conversations: make(map[string]*memoryConversation),
	}
}

// AddConversation registers a conversation under its thread id. Adding a conversation that already
// exists replaces its fields and keeps its messages.
func (m Memory) AddConversation(_ context.Context, conversation models.Conversation) error {
	if conversation.ThreadID == "" {
		return errors.New("conversation thread id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conversations[conversation.ThreadID]; ok {
		c.conversation = conversation
		return nil
	}
	m.conversations[conversation.ThreadID] = &memoryConversation{conversation: conversation}
	return nil
}

// Conversation returns the conversation of the given thread.
func (m Memory) Conversation(_ context.Context, threadID string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[threadID]
	if !ok {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, threadID)
	}
	return c.conversation, nil
}

// UpdateConversation modifies an existing conversation. If the conversation doesn't exist, the operation
// is silently ignored.
func (m Memory) UpdateConversation(_ context.Context, conversation models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conversations[conversation.ThreadID]; ok {
		c.conversation = conversation
	}
	return nil
}

// Messages returns a copy of the messages of the given thread in insertion order.
func (m Memory) Messages(_ context.Context, threadID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, threadID)
	}
	return slices.Clone(c.messages), nil
}

// AddMessage appends a message to the given thread. The stored message gets a new ID made of a sequence
// number and the original ID, which is returned.
func (m Memory) AddMessage(_ context.Context, threadID string, message models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[threadID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConversationNotFound, threadID)
	}

	c.sequence++
	message.ID = fmt.Sprintf("%d-%s", c.sequence, message.ID)
	c.messages = append(c.messages, message)

	return message.ID, nil
}

// UpdateMessage replaces the message with the same ID in the given thread. If the message doesn't exist,
// the operation is silently ignored.
func (m Memory) UpdateMessage(_ context.Context, threadID string, message models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[threadID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, threadID)
	}

	idx := slices.IndexFunc(c.messages, func(msg models.Message) bool { return msg.ID == message.ID })
	if idx == -1 {
		return nil
	}
	c.messages[idx] = message
	return nil
}
