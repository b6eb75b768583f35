// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loopmaster303/heyhihosted-sub000/internal/gateway"
	"github.com/loopmaster303/heyhihosted-sub000/internal/kv"
	"github.com/loopmaster303/heyhihosted-sub000/internal/model"
	"github.com/loopmaster303/heyhihosted-sub000/internal/store"
	"github.com/loopmaster303/heyhihosted-sub000/internal/title"
)

const (
	// MaxStored bounds the number of retained conversations. When full,
	// the conversation with the smallest UpdatedAt is evicted before a
	// new one is inserted.
	MaxStored = 50

	// SnapshotKey is the key-value store key holding the serialized
	// conversation list.
	SnapshotKey = "chatConversations"

	// persistTimeout bounds background persistence writes.
	persistTimeout = 10 * time.Second
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Completer produces chat completions. *gateway.Gateway implements it.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Titler generates conversation titles. *title.Generator implements it.
type Titler interface {
	ShouldGenerate(conv *model.Conversation) bool
	Generate(ctx context.Context, conv *model.Conversation) (string, bool)
}

// EventKind classifies notifier events.
type EventKind string

const (
	EventError        EventKind = "error"
	EventInfo         EventKind = "info"
	EventTitleUpdated EventKind = "title_updated"
)

// Event is a user-facing notification raised by the service.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        string
}

// Notifier receives user-facing events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Settings holds the chat defaults applied to new conversations and
// outgoing requests.
type Settings struct {
	DefaultModel    string
	DefaultStyle    string
	SystemPrompt    string
	UserDisplayName string
	Temperature     float64
	MaxTokens       int
}

// SendOptions modify a single SendMessage call.
type SendOptions struct {
	// IsRegeneration marks a retry of the last exchange: no new user
	// message is recorded, and the reply is appended like any other.
	IsRegeneration bool

	// OverrideHistory, when non-nil, replaces the conversation history
	// sent to the backend. The stored conversation is not affected.
	OverrideHistory []gateway.Message
}

// =============================================================================
// SERVICE
// =============================================================================

// Service owns the conversation collection: a single bounded list
// sorted by recency plus an active-conversation id. All mutations go
// through explicit methods; returned conversations are deep copies.
type Service struct {
	mu            sync.Mutex
	conversations []*model.Conversation // sorted by UpdatedAt, newest first
	activeID      string
	responding    map[string]bool

	kv       kv.Store
	bulk     *store.Bulk
	gw       Completer
	titles   Titler
	notifier Notifier
	settings Settings
	logger   *zap.Logger

	titleWG sync.WaitGroup
}

// NewService builds a Service and loads persisted conversations. The
// structured store is authoritative; the key-value snapshot is the
// fallback when the structured store is empty (pre-migration data or a
// fresh database file).
func NewService(ctx context.Context, kvStore kv.Store, bulk *store.Bulk, gw Completer, titles Titler, settings Settings, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		responding: make(map[string]bool),
		kv:         kvStore,
		bulk:       bulk,
		gw:         gw,
		titles:     titles,
		notifier:   nopNotifier{},
		settings:   settings,
		logger:     logger,
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// WithNotifier sets the event sink.
func (s *Service) WithNotifier(n Notifier) *Service {
	if n != nil {
		s.notifier = n
	}
	return s
}

// load populates the in-memory collection.
func (s *Service) load(ctx context.Context) error {
	if s.bulk != nil {
		convs, err := s.bulk.LoadAll(ctx)
		if err != nil {
			return err
		}
		if len(convs) > 0 {
			s.conversations = convs
			s.sortLocked()
			return nil
		}
	}

	if s.kv != nil {
		var convs []*model.Conversation
		err := kv.GetJSON(s.kv, SnapshotKey, &convs)
		if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
			s.logger.Warn("conversation snapshot unreadable, starting empty",
				zap.Error(err))
			return nil
		}
		s.conversations = convs
		s.sortLocked()
	}
	return nil
}

// Close waits for in-flight background work (title generation).
func (s *Service) Close() {
	s.titleWG.Wait()
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// StartNewChat creates a conversation with the default title, makes it
// active, and persists it. When the collection is full the stalest
// conversation is evicted first.
func (s *Service) StartNewChat() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startNewChatLocked().Clone()
}

func (s *Service) startNewChatLocked() *model.Conversation {
	s.evictIfFullLocked()

	conv := model.NewConversation(model.ToolTypeChat)
	conv.ModelID = s.settings.DefaultModel
	conv.StyleID = s.settings.DefaultStyle

	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.activeID = conv.ID
	s.persistLocked(conv)

	s.logger.Info("started new conversation", zap.String("conversation", conv.ID))
	return conv
}

// SelectChat makes the conversation with the given id active. An empty
// id deselects. If the stored record carries no messages (a
// metadata-only record), the full body is fetched from the structured
// store.
func (s *Service) SelectChat(id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.activeID = ""
		return nil, nil
	}

	conv := s.findLocked(id)
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	if conv.IsEmpty() && s.bulk != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		full, err := s.bulk.LoadFull(ctx, id)
		cancel()
		if err == nil && len(full.Messages) > 0 {
			conv.Messages = full.Messages
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load conversation body",
				zap.String("conversation", id),
				zap.Error(err))
		}
	}

	s.activeID = id
	return conv.Clone(), nil
}

// Active returns a copy of the active conversation, or nil.
func (s *Service) Active() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(s.activeID)
	if conv == nil {
		return nil
	}
	return conv.Clone()
}

// List returns metadata for all conversations, newest first.
func (s *Service) List() []model.ConversationMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := make([]model.ConversationMeta, 0, len(s.conversations))
	for _, conv := range s.conversations {
		metas = append(metas, conv.Meta())
	}
	return metas
}

// RenameConversation sets a new title. Empty or blank titles are
// rejected with a ValidationError.
func (s *Service) RenameConversation(id, newTitle string) error {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return ErrConversationNotFound
	}

	conv.SetTitle(newTitle)
	s.sortLocked()
	s.persistLocked(conv)
	return nil
}

// DeleteChat removes a conversation. When the active conversation is
// deleted, the most recently updated conversation of the same tool type
// becomes active; if none remains, a fresh one is started. The silent
// flag suppresses the notifier event.
func (s *Service) DeleteChat(id string, silent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return ErrConversationNotFound
	}

	toolType := conv.ToolType
	wasActive := s.activeID == id

	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := s.bulk.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete conversation from store",
			zap.String("conversation", id),
			zap.Error(err))
	}
	cancel()
	s.writeSnapshotLocked()

	if wasActive {
		s.activeID = ""
		// Prefer the most recent conversation of the same surface.
		for _, c := range s.conversations {
			if c.ToolType == toolType {
				s.activeID = c.ID
				break
			}
		}
		if s.activeID == "" {
			s.startNewChatLocked()
		}
	}

	if !silent {
		s.notifier.Notify(Event{
			Kind:           EventInfo,
			ConversationID: id,
			Message:        "conversation deleted",
		})
	}

	s.logger.Info("deleted conversation",
		zap.String("conversation", id),
		zap.Bool("was_active", wasActive))
	return nil
}

// SetModel changes the model used by a conversation.
func (s *Service) SetModel(id, modelID string) error {
	return s.updateConversation(id, func(conv *model.Conversation) {
		conv.ModelID = modelID
	})
}

// SetStyle changes the response style of a conversation.
func (s *Service) SetStyle(id, styleID string) error {
	return s.updateConversation(id, func(conv *model.Conversation) {
		conv.StyleID = styleID
	})
}

func (s *Service) updateConversation(id string, mutate func(*model.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return ErrConversationNotFound
	}
	mutate(conv)
	conv.Touch()
	s.sortLocked()
	s.persistLocked(conv)
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage records the user's message in the active conversation,
// requests a completion, and records the reply. If no conversation is
// active, one is started.
//
// The per-conversation busy guard rejects a second send while one is in
// flight; other conversations are unaffected. The completion result is
// applied to the conversation it was requested for, looked up by id, so
// switching the active conversation mid-flight cannot misfile a reply.
// Results for a conversation deleted mid-flight are discarded.
//
// On completion failure an assistant-role error message is appended so
// the failure stays visible in the transcript, a notifier event is
// raised, and the error is returned.
func (s *Service) SendMessage(ctx context.Context, text string, opts SendOptions) (*model.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" && !opts.IsRegeneration {
		return nil, &ValidationError{Field: "message", Reason: "must not be empty"}
	}

	s.mu.Lock()
	conv := s.findLocked(s.activeID)
	if conv == nil {
		conv = s.startNewChatLocked()
	}
	convID := conv.ID

	if s.responding[convID] {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	if !opts.IsRegeneration {
		conv.AddMessage(model.NewUserMessage(text))
		s.sortLocked()
		s.persistLocked(conv)
	}

	req := gateway.Request{
		Model:        conv.ModelID,
		SystemPrompt: ResolveSystemPrompt(conv.StyleID, s.settings.SystemPrompt, s.settings.UserDisplayName),
		Temperature:  s.settings.Temperature,
		MaxTokens:    s.settings.MaxTokens,
	}
	if opts.OverrideHistory != nil {
		req.Messages = opts.OverrideHistory
	} else {
		req.Messages = wireHistory(conv)
	}

	s.responding[convID] = true
	s.mu.Unlock()

	// Network call happens without the lock; other conversations stay
	// fully operable.
	result, err := s.gw.Complete(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responding, convID)

	conv = s.findLocked(convID)
	if conv == nil {
		// Deleted while the request was in flight.
		s.logger.Info("discarding completion for deleted conversation",
			zap.String("conversation", convID))
		return nil, ErrConversationNotFound
	}

	if err != nil {
		notice := errorNotice(err)
		conv.AddMessage(model.NewErrorMessage(notice))
		s.sortLocked()
		s.persistLocked(conv)
		s.notifier.Notify(Event{
			Kind:           EventError,
			ConversationID: convID,
			Message:        notice,
		})
		return conv.Clone(), err
	}

	conv.AddMessage(model.NewAssistantMessage(result.Content))
	s.sortLocked()
	s.persistLocked(conv)

	s.maybeGenerateTitleLocked(conv)

	return conv.Clone(), nil
}

// wireHistory converts stored messages to wire form, leaving out
// synthesized error messages.
func wireHistory(conv *model.Conversation) []gateway.Message {
	out := make([]gateway.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.IsError {
			continue
		}
		out = append(out, gateway.Message{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return out
}

// errorNotice renders a completion failure for the transcript.
func errorNotice(err error) string {
	switch {
	case errors.Is(err, gateway.ErrNoBackendAvailable):
		return "No AI backend is configured. Add a credential to a target and try again."
	case errors.Is(err, gateway.ErrContentFiltered):
		return "The request was rejected by the backend's content filter."
	default:
		return "The request failed: " + err.Error()
	}
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// maybeGenerateTitleLocked kicks off background title generation when
// the conversation is in the titling window. Best effort: failures only
// log.
func (s *Service) maybeGenerateTitleLocked(conv *model.Conversation) {
	if s.titles == nil || !s.titles.ShouldGenerate(conv) {
		return
	}

	snapshot := conv.Clone()
	s.titleWG.Add(1)
	go func() {
		defer s.titleWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		generated, ok := s.titles.Generate(ctx, snapshot)
		if !ok {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		current := s.findLocked(snapshot.ID)
		if current == nil || !title.IsDefault(current.Title) {
			// Deleted or renamed in the meantime; the generated title
			// loses.
			return
		}
		current.Title = generated
		s.persistLocked(current)
		s.notifier.Notify(Event{
			Kind:           EventTitleUpdated,
			ConversationID: current.ID,
			Message:        generated,
		})
	}()
}

// =============================================================================
// INTERNALS
// =============================================================================

// findLocked returns the conversation with the given id, or nil.
func (s *Service) findLocked(id string) *model.Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// sortLocked restores the newest-first invariant.
func (s *Service) sortLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].UpdatedAt.After(s.conversations[j].UpdatedAt)
	})
}

// evictIfFullLocked removes the conversation with the smallest
// UpdatedAt until there is room for one more.
func (s *Service) evictIfFullLocked() {
	for len(s.conversations) >= MaxStored {
		oldest := len(s.conversations) - 1
		for i, conv := range s.conversations {
			if conv.UpdatedAt.Before(s.conversations[oldest].UpdatedAt) {
				oldest = i
			}
		}
		victim := s.conversations[oldest]
		s.conversations = append(s.conversations[:oldest], s.conversations[oldest+1:]...)

		if s.activeID == victim.ID {
			s.activeID = ""
		}
		if s.bulk != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := s.bulk.Delete(ctx, victim.ID); err != nil {
				s.logger.Error("failed to delete evicted conversation",
					zap.String("conversation", victim.ID),
					zap.Error(err))
			}
			cancel()
		}

		s.logger.Info("evicted conversation at capacity",
			zap.String("conversation", victim.ID),
			zap.Time("updated_at", victim.UpdatedAt))
	}
	s.writeSnapshotLocked()
}

// persistLocked writes the mutated conversation through to both stores.
func (s *Service) persistLocked(conv *model.Conversation) {
	if s.bulk != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.bulk.SaveFull(ctx, conv); err != nil {
			s.logger.Error("failed to persist conversation",
				zap.String("conversation", conv.ID),
				zap.Error(err))
		}
		cancel()
	}
	s.writeSnapshotLocked()
}

// writeSnapshotLocked rewrites the key-value snapshot of the whole
// collection.
func (s *Service) writeSnapshotLocked() {
	if s.kv == nil {
		return
	}
	if err := kv.SetJSON(s.kv, SnapshotKey, s.conversations); err != nil {
		s.logger.Error("failed to write conversation snapshot", zap.Error(err))
	}
}
