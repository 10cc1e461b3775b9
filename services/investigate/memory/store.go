// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit is used by ListRecent when limit <= 0.
const DefaultListLimit = 10

// Store is an in-process conversation store.
//
// Description:
//
//	Conversations live for the lifetime of the process unless a maximum is
//	configured, in which case creating a conversation past the limit evicts
//	the least recently active one that is not pinned. Pinned conversations
//	are never evicted; if every conversation is pinned the store grows past
//	the limit.
//
// Thread Safety: Store is safe for concurrent use. All reads return deep
// copies, so callers never observe later writes through a snapshot.
type Store struct {
	mu               sync.RWMutex
	conversations    map[string]*Conversation
	maxConversations int
	pinned           map[string]int
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConversations bounds the number of stored conversations. Zero means unbounded.
func WithMaxConversations(n int) Option {
	return func(s *Store) {
		s.maxConversations = n
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		pinned:        make(map[string]int),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}

// CreateConversation creates a conversation in status active.
//
// Inputs:
//   - id: The id to use. Empty generates a new unique id.
//
// Outputs:
//   - *Conversation: Snapshot of the new conversation.
//   - error: ErrAlreadyExists if id is already in use.
func (s *Store) CreateConversation(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		for {
			id = NewConversationID()
			if _, taken := s.conversations[id]; !taken {
				break
			}
		}
	} else if _, exists := s.conversations[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	if s.maxConversations > 0 && len(s.conversations) >= s.maxConversations {
		s.evictOldestLocked()
	}

	now := s.now()
	conv := &Conversation{
		ID:           id,
		Status:       StatusActive,
		Messages:     []Message{},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.conversations[id] = conv
	return conv.clone(), nil
}

// EnsureConversation returns the conversation with id, creating it if absent.
//
// Outputs:
//   - *Conversation: Snapshot of the conversation.
//   - bool: True if it was created by this call.
func (s *Store) EnsureConversation(id string) (*Conversation, bool) {
	if id != "" {
		if conv, ok := s.GetConversation(id); ok {
			return conv, false
		}
	}
	conv, err := s.CreateConversation(id)
	if err != nil {
		// Lost a creation race; the conversation exists now.
		existing, _ := s.GetConversation(id)
		return existing, false
	}
	return conv, true
}

// AddMessage appends a message to a conversation.
//
// Description:
//
//	A string content is stored as text. Any other non-nil value is stored
//	as a JSON payload; json.RawMessage is stored as-is.
//
// Inputs:
//   - conversationID: Target conversation.
//   - role: Author of the message.
//   - content: Text or structured payload.
//   - metadata: Optional tags. Copied; the caller may reuse the map.
//
// Outputs:
//   - Message: The stored message.
//   - error: ErrNotFound if the conversation does not exist, or a
//     marshaling error for unsupported payloads.
func (s *Store) AddMessage(conversationID string, role Role, content any, metadata map[string]string) (Message, error) {
	msg := Message{
		ID:   "msg_" + uuid.NewString(),
		Role: role,
	}
	switch c := content.(type) {
	case nil:
	case string:
		msg.Content = c
	case json.RawMessage:
		msg.Payload = append(json.RawMessage(nil), c...)
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return Message{}, fmt.Errorf("memory: encoding message payload: %w", err)
		}
		msg.Payload = raw
	}
	if len(metadata) > 0 {
		msg.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			msg.Metadata[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	msg.Timestamp = s.now()
	conv.Messages = append(conv.Messages, msg)
	conv.LastActivity = msg.Timestamp
	return msg.clone(), nil
}

// GetConversation returns a deep snapshot of the conversation, or (nil, false).
func (s *Store) GetConversation(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return conv.clone(), true
}

// ListRecent returns conversations ordered by last activity, newest first.
//
// Inputs:
//   - limit: Maximum results. <= 0 means DefaultListLimit.
func (s *Store) ListRecent(limit int) []*Conversation {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	all := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		all = append(all, conv.clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastActivity.Equal(all[j].LastActivity) {
			return all[i].LastActivity.After(all[j].LastActivity)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// UpdateStatus moves a conversation to a new status.
//
// Description:
//
//	Updating a missing conversation is a logged no-op. Backwards moves and
//	moves out of a terminal status return ErrInvalidTransition, as does
//	completing a conversation with no consolidation reply recorded.
//
// Outputs:
//   - error: ErrInvalidTransition on an illegal move; nil otherwise.
func (s *Store) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		s.logger.Warn("memory: status update for unknown conversation",
			slog.String("conversation_id", id),
			slog.String("status", string(status)),
		)
		return nil
	}
	if !CanTransition(conv.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conv.Status, status)
	}
	if status == StatusCompleted && !conv.HasPhaseMessage(RoleAssistant, PhaseConsolidation) {
		return fmt.Errorf("%w: completed without a consolidation reply", ErrInvalidTransition)
	}
	conv.Status = status
	conv.LastActivity = s.now()
	return nil
}

// IncrementClarification records one more clarification round.
//
// Outputs:
//   - int: The new round count.
//   - error: ErrNotFound if the conversation does not exist.
func (s *Store) IncrementClarification(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	conv.ClarificationRounds++
	return conv.ClarificationRounds, nil
}

// Pin protects a conversation from eviction until the returned func is
// called. The id need not exist yet. Pins nest; the unpin func is safe to
// call more than once.
func (s *Store) Pin(id string) (unpin func()) {
	s.mu.Lock()
	s.pinned[id]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pinned[id] <= 1 {
				delete(s.pinned, id)
				return
			}
			s.pinned[id]--
		})
	}
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Store) evictOldestLocked() {
	var oldest *Conversation
	for id, conv := range s.conversations {
		if s.pinned[id] > 0 {
			continue
		}
		if oldest == nil || conv.LastActivity.Before(oldest.LastActivity) {
			oldest = conv
		}
	}
	if oldest == nil {
		s.logger.Warn("memory: all conversations pinned, exceeding limit",
			slog.Int("max_conversations", s.maxConversations))
		return
	}
	delete(s.conversations, oldest.ID)
	s.logger.Debug("memory: evicted conversation", slog.String("conversation_id", oldest.ID))
}
