package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/vadim/neo-inbox/internal/domain/event/cache"
	"github.com/vadim/neo-inbox/internal/domain/event/entity"
	"github.com/vadim/neo-inbox/internal/domain/event/scheduler"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
	"github.com/vadim/neo-inbox/internal/metrics"
)

// LocalIDPrefix marks ids of optimistic events that the server has not seen yet
const LocalIDPrefix = "local-"

// EventAPI defines the REST operations the controller needs
type EventAPI interface {
	ListEvents(ctx context.Context, conversationID string) ([]entity.Event, error)
	SendMessage(ctx context.Context, conversationID string, body entity.Body) (*entity.Event, error)
}

// View is what the open conversation screen renders
type View struct {
	ConversationID string         `json:"conversation_id"`
	Events         []entity.Event `json:"events"`
	Loading        bool           `json:"loading"`
	Err            error          `json:"-"`
	LastFetchedAt  time.Time      `json:"last_fetched_at"`
}

// Config holds configuration for the synchronization controller
type Config struct {
	Poll  scheduler.Config
	Clock clockwork.Clock
}

// Service keeps the open conversation in sync with the server: it serves
// reads from the cache, fetches when stale or forced, polls while open and
// applies pushed events.
type Service struct {
	cache   *cache.Store
	api     EventAPI
	poller  *scheduler.Poller
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	mu     sync.Mutex
	active string
	view   View
	task   *scheduler.Task
}

// New creates a new synchronization controller
func New(store *cache.Store, api EventAPI, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Service{
		cache:   store,
		api:     api,
		clock:   cfg.Clock,
		logger:  logger.With("component", "event_sync"),
		metrics: m,
	}
	s.poller = scheduler.New(s, cfg.Clock, cfg.Poll, logger, m)

	return s
}

// Open makes conversationID the active conversation. The previous poll task
// is cancelled before the first load of the new one.
func (s *Service) Open(ctx context.Context, conversationID string) View {
	s.mu.Lock()
	prev := s.task
	s.task = nil
	s.active = conversationID
	s.view = View{ConversationID: conversationID}
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	view := s.LoadEvents(ctx, false)

	task := s.poller.Start(conversationID, len(view.Events))

	s.mu.Lock()
	if s.active != conversationID || s.task != nil {
		// switched again while loading
		s.mu.Unlock()
		task.Cancel()
		return view
	}
	s.task = task
	s.mu.Unlock()

	return s.Snapshot()
}

// Active returns the id of the open conversation, "" when none
func (s *Service) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LoadEvents loads the active conversation. Without force, fresh cached
// events are served without a request.
func (s *Service) LoadEvents(ctx context.Context, force bool) View {
	id := s.Active()
	if id == "" {
		return View{Err: entity.ErrNoConversation}
	}

	_, _ = s.load(ctx, id, force)
	return s.Snapshot()
}

// RefreshEvents forces a reload of the active conversation
func (s *Service) RefreshEvents(ctx context.Context) View {
	return s.LoadEvents(ctx, true)
}

// Refresh reloads one conversation and returns its event count.
// It is the poll task's entry point.
func (s *Service) Refresh(ctx context.Context, conversationID string) (int, error) {
	return s.load(ctx, conversationID, true)
}

// IsLoading reports whether a fetch for the conversation is outstanding
func (s *Service) IsLoading(conversationID string) bool {
	return s.cache.IsLoading(conversationID)
}

func (s *Service) load(ctx context.Context, conversationID string, force bool) (int, error) {
	if !force {
		if events, ok := s.cache.GetEvents(conversationID); ok {
			s.metrics.FetchDone(metrics.OutcomeCached, 0)
			s.mirror(conversationID, events, nil)
			return len(events), nil
		}
	}

	v, err, _ := s.group.Do(conversationID, func() (any, error) {
		return s.fetch(ctx, conversationID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) fetch(ctx context.Context, conversationID string) (int, error) {
	gen := s.cache.BeginFetch(conversationID)
	start := s.clock.Now()

	events, err := s.api.ListEvents(ctx, conversationID)
	if err != nil {
		s.cache.FailFetch(conversationID, gen)
		s.metrics.FetchDone(metrics.OutcomeError, s.clock.Since(start).Seconds())

		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "failed to fetch events",
			"conversation_id", conversationID,
			"error", err,
		)

		prior, ok := s.cache.Peek(conversationID)
		s.mirrorFailure(conversationID, prior, ok, err)
		return 0, fmt.Errorf("fetching events: %w", err)
	}

	for _, ev := range events {
		if ev.HasInvalidBody() {
			s.logger.Warn("keeping event with unreadable body",
				"conversation_id", conversationID,
				"event_id", ev.ID,
				"body_type", ev.Body.Kind(),
			)
		}
	}

	entity.SortByCreatedAt(events)

	outcome := metrics.OutcomeOK
	if !s.cache.CompleteFetch(conversationID, gen, events) {
		outcome = metrics.OutcomeStale
		s.logger.Debug("discarded superseded fetch", "conversation_id", conversationID)
	}
	s.metrics.FetchDone(outcome, s.clock.Since(start).Seconds())
	s.metrics.CachedConversations(s.cache.Size())

	current, _ := s.cache.Peek(conversationID)
	s.mirror(conversationID, current, nil)

	return len(current), nil
}

// AddEvent appends a locally created event to the active conversation
func (s *Service) AddEvent(ev entity.Event) error {
	id := s.Active()
	if id == "" {
		return entity.ErrNoConversation
	}
	if ev.ID == "" {
		return entity.ErrMissingEventID
	}
	if ev.ConversationID == "" {
		ev.ConversationID = id
	}

	s.cache.AddEvent(id, ev)
	s.mirrorCache(id)
	return nil
}

// UpdateEvent replaces an event of the active conversation in place
func (s *Service) UpdateEvent(eventID string, ev entity.Event) bool {
	id := s.Active()
	if id == "" {
		return false
	}

	if !s.cache.UpdateEvent(id, eventID, ev) {
		return false
	}
	s.mirrorCache(id)
	return true
}

// HandlePush applies an event received from the live-update channel. A known
// id is a status change, an unknown one is new history.
func (s *Service) HandlePush(ev entity.Event) {
	if ev.ConversationID == "" || ev.ID == "" {
		s.logger.Warn("dropping pushed event without ids", "event_id", ev.ID)
		return
	}

	inserted := s.cache.UpsertEvent(ev.ConversationID, ev)
	s.logger.Debug("applied pushed event",
		"conversation_id", ev.ConversationID,
		"event_id", ev.ID,
		"inserted", inserted,
	)

	if s.Active() == ev.ConversationID {
		s.mirrorCache(ev.ConversationID)
	}
}

// SendText sends a text message to the active conversation
func (s *Service) SendText(ctx context.Context, text string) (View, error) {
	text = strings.TrimSpace(text)
	if err := entity.ValidateMessageText(text); err != nil {
		return s.Snapshot(), err
	}
	return s.send(ctx, entity.TextBody{Text: text})
}

// SendTemplate sends an approved template to the active conversation
func (s *Service) SendTemplate(ctx context.Context, templateName, locale string) (View, error) {
	if strings.TrimSpace(templateName) == "" {
		return s.Snapshot(), entity.ErrTemplateMissing
	}
	return s.send(ctx, entity.TemplateBody{Name: templateName, Locale: locale})
}

// SendImage sends an uploaded image to the active conversation
func (s *Service) SendImage(ctx context.Context, mediaID, caption string) (View, error) {
	if mediaID == "" {
		return s.Snapshot(), entity.ErrMediaRequired
	}
	return s.send(ctx, entity.ImageBody{MediaID: mediaID, Caption: caption})
}

// send shows the message immediately with status "sending", posts it and
// then reloads the conversation. On failure the optimistic event is kept
// and marked failed.
func (s *Service) send(ctx context.Context, body entity.Body) (View, error) {
	id := s.Active()
	if id == "" {
		return View{Err: entity.ErrNoConversation}, entity.ErrNoConversation
	}

	now := s.clock.Now()
	local := entity.Event{
		ID:             LocalIDPrefix + uuid.NewString(),
		ConversationID: id,
		Type:           entity.EventTypeMessage,
		ActorType:      entity.ActorTypeAgent,
		Status:         entity.StatusSending,
		Body:           body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.cache.AddEvent(id, local)
	s.mirrorCache(id)

	echoed, err := s.api.SendMessage(ctx, id, body)
	if err != nil {
		failed := local.WithStatus(entity.StatusFailed, err.Error())
		failed.UpdatedAt = s.clock.Now()
		s.cache.HoldUnsent(id, failed)
		s.mirrorCache(id)
		s.metrics.MessageSent(string(body.Kind()), metrics.OutcomeError)

		s.logger.Error("failed to send message",
			"conversation_id", id,
			"kind", body.Kind(),
			"error", err,
		)
		return s.Snapshot(), fmt.Errorf("sending message: %w", err)
	}

	s.metrics.MessageSent(string(body.Kind()), metrics.OutcomeOK)
	if echoed != nil && echoed.ID != "" {
		s.cache.UpdateEvent(id, local.ID, *echoed)
		s.mirrorCache(id)
	}

	return s.RefreshEvents(ctx), nil
}

// DiscardEvent removes a local event that failed to send from the active
// conversation. Server events cannot be discarded.
func (s *Service) DiscardEvent(eventID string) error {
	id := s.Active()
	if id == "" {
		return entity.ErrNoConversation
	}
	if !strings.HasPrefix(eventID, LocalIDPrefix) {
		return entity.ErrNotDiscardable
	}
	if !s.cache.RemoveEvent(id, eventID) {
		return entity.ErrEventNotFound
	}
	s.mirrorCache(id)
	return nil
}

// ClearCache evicts the active conversation from the cache
func (s *Service) ClearCache() {
	id := s.Active()
	if id == "" {
		return
	}
	s.cache.ClearConversation(id)
	s.metrics.CachedConversations(s.cache.Size())

	s.mu.Lock()
	if s.active == id {
		s.view.Events = nil
		s.view.LastFetchedAt = time.Time{}
	}
	s.mu.Unlock()
}

// Close stops polling and forgets the active conversation
func (s *Service) Close() {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.active = ""
	s.view = View{}
	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

// Snapshot returns a copy of the current view
func (s *Service) Snapshot() View {
	s.mu.Lock()
	v := s.view
	v.Events = append([]entity.Event(nil), s.view.Events...)
	s.mu.Unlock()

	if v.ConversationID != "" {
		v.Loading = s.cache.IsLoading(v.ConversationID)
	}
	return v
}

// IsUnauthorized reports whether the view failed on an expired session
func (v View) IsUnauthorized() bool {
	return errors.Is(v.Err, inbox.ErrUnauthorized)
}

func (s *Service) mirrorCache(conversationID string) {
	events, _ := s.cache.Peek(conversationID)
	s.mirror(conversationID, events, nil)
}

func (s *Service) mirror(conversationID string, events []entity.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != conversationID {
		return
	}
	s.view.Events = events
	s.view.Err = err
	s.view.LastFetchedAt = s.cache.LastFetchedAt(conversationID)
}

// mirrorFailure keeps the last known events on screen and flags the error
func (s *Service) mirrorFailure(conversationID string, prior []entity.Event, havePrior bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != conversationID {
		return
	}
	if havePrior {
		s.view.Events = prior
	}
	s.view.Err = err
}
