// Package session binds one authenticated principal to the change feeds
// and broker channel that drive the real-time chat surface. The manager
// owns a per-principal state machine (Idle -> Active -> Idle) and a
// bounded queue that serializes event processing: events are handled in
// arrival order, one at a time, so listener fan-out and counter updates
// never interleave for the same session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Scl-Ywr/confession-wall-sub003/broker"
	"github.com/Scl-Ywr/confession-wall-sub003/cache"
	"github.com/Scl-Ywr/confession-wall-sub003/envelope"
	"github.com/Scl-Ywr/confession-wall-sub003/errors"
	"github.com/Scl-Ywr/confession-wall-sub003/feed"
	"github.com/Scl-Ywr/confession-wall-sub003/listener"
	"github.com/Scl-Ywr/confession-wall-sub003/metric"
	"github.com/Scl-Ywr/confession-wall-sub003/notify"
	"github.com/Scl-Ywr/confession-wall-sub003/store"
	"github.com/Scl-Ywr/confession-wall-sub003/types"
	"github.com/Scl-Ywr/confession-wall-sub003/unread"
)

// State is the session lifecycle state.
type State int

// Session states
const (
	StateIdle State = iota
	StateActive
)

// String returns the string representation of the state
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// MessageRecord is the change-feed payload for an inserted chat message.
type MessageRecord struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	SentAt      int64  `json:"sent_at"` // unix milliseconds
}

// ReadStatusRecord is the change-feed payload for a read-status update.
type ReadStatusRecord struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
}

const defaultQueueSize = 64

type eventKind int

const (
	eventPrivate eventKind = iota
	eventGroup
	eventReadStatus
	eventEnvelope
)

func (k eventKind) String() string {
	switch k {
	case eventPrivate:
		return "private"
	case eventGroup:
		return "group"
	case eventReadStatus:
		return "read_status"
	default:
		return "envelope"
	}
}

type event struct {
	kind eventKind
	data []byte
	env  *envelope.Envelope
}

// session is the Active-state bundle: feed handles, queue, consumer.
type session struct {
	principal     string
	ctx           context.Context
	cancel        context.CancelFunc
	handles       []feed.Handle
	notifyChannel string
	notifyHandler broker.Handler
	queue         chan event
	done          chan struct{}
}

// Manager holds at most one active session and runs its event loop.
// All collaborators are injected; broker, notifier and profile cache
// are optional.
type Manager struct {
	feeds     feed.Feed
	bus       *broker.Adapter
	profiles  store.ProfileStore
	groups    store.GroupStore
	unread    *unread.Service
	listeners *listener.Registry
	notifier  *notify.Dispatcher

	profileCache cache.Cache[*store.Profile]
	logger       *slog.Logger
	queueSize    int

	processed *prometheus.CounterVec
	dropped   *prometheus.CounterVec

	mu      sync.Mutex
	current *session
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBroker attaches the pub/sub adapter used for the generic
// notification channel.
func WithBroker(bus *broker.Adapter) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithNotifier attaches the notification dispatcher.
func WithNotifier(n *notify.Dispatcher) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithProfileCache attaches a cache for sender profile enrichment.
func WithProfileCache(c cache.Cache[*store.Profile]) Option {
	return func(m *Manager) { m.profileCache = c }
}

// WithQueueSize overrides the bounded event queue capacity.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMetrics registers session metrics with the given registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(m *Manager) {
		if registry == nil {
			return
		}
		processed := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_events_processed_total",
			Help: "Session events processed by type",
		}, []string{"type"})
		dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_events_dropped_total",
			Help: "Session events dropped by reason",
		}, []string{"reason"})
		if err := registry.RegisterCounterVec("session", "session_events_processed_total", processed); err != nil {
			m.logger.Warn("session metrics registration failed", "error", err)
			return
		}
		if err := registry.RegisterCounterVec("session", "session_events_dropped_total", dropped); err != nil {
			m.logger.Warn("session metrics registration failed", "error", err)
			return
		}
		m.processed = processed
		m.dropped = dropped
	}
}

// NewManager creates an Idle manager.
func NewManager(
	feeds feed.Feed,
	profiles store.ProfileStore,
	groups store.GroupStore,
	unreadSvc *unread.Service,
	listeners *listener.Registry,
	opts ...Option,
) *Manager {
	m := &Manager{
		feeds:     feeds,
		profiles:  profiles,
		groups:    groups,
		unread:    unreadSvc,
		listeners: listeners,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return StateActive
	}
	return StateIdle
}

// Principal returns the active principal, or "" when Idle.
func (m *Manager) Principal() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.principal
}

// Init opens the session for the principal: the three change feeds
// (private messages to me, group messages for my groups, read-status
// updates for me) plus the generic notification channel. Calling Init
// again with the same principal is a no-op; a different principal tears
// the existing session down first.
func (m *Manager) Init(ctx context.Context, principal string) error {
	if principal == "" {
		return errors.WrapInvalid(fmt.Errorf("principal is empty"),
			"Manager", "Init", "validate principal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.principal == principal {
			return nil
		}
		m.teardownLocked()
	}

	s := &session{
		principal: principal,
		queue:     make(chan event, m.queueSize),
		done:      make(chan struct{}),
	}
	// The session outlives the Init call
	s.ctx, s.cancel = context.WithCancel(context.Background())

	filters := []struct {
		filter feed.Filter
		kind   eventKind
	}{
		{feed.Filter{Collection: feed.CollectionPrivateMessages, Key: principal}, eventPrivate},
		{feed.Filter{Collection: feed.CollectionGroupMessages, Key: principal}, eventGroup},
		{feed.Filter{Collection: feed.CollectionReadStatus, Key: principal}, eventReadStatus},
	}
	for _, f := range filters {
		kind := f.kind
		handle, err := m.feeds.Open(ctx, f.filter, func(data []byte) {
			m.enqueue(s, event{kind: kind, data: data})
		})
		if err != nil {
			m.closeHandles(s)
			s.cancel()
			return errors.Wrap(err, "Manager", "Init", "open "+f.filter.Collection+" feed")
		}
		s.handles = append(s.handles, handle)
	}

	if m.bus != nil {
		s.notifyChannel = envelope.NotifyChannel(principal)
		s.notifyHandler = func(env *envelope.Envelope) {
			m.enqueue(s, event{kind: eventEnvelope, env: env})
		}
		// Registration sticks even while the broker is reconnecting
		m.bus.Subscribe(s.notifyChannel, s.notifyHandler)
	}

	go m.consume(s)

	m.current = s
	m.logger.Info("session active", "principal", principal)
	return nil
}

// Unsubscribe closes all feed handles, clears the principal and returns
// the manager to Idle. Safe to call when already Idle. An event in
// flight completes; queued events are discarded.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil

	if m.bus != nil && s.notifyChannel != "" {
		m.bus.Unsubscribe(s.notifyChannel, s.notifyHandler)
	}
	m.closeHandles(s)

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("session consumer did not stop in time", "principal", s.principal)
	}

	m.logger.Info("session idle", "principal", s.principal)
}

func (m *Manager) closeHandles(s *session) {
	var g errgroup.Group
	for _, h := range s.handles {
		handle := h
		g.Go(handle.Close)
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("feed close failed", "principal", s.principal, "error", err)
	}
	s.handles = nil
}

// enqueue adds an event to the session's bounded queue. A full queue
// drops the event; delivery is best-effort.
func (m *Manager) enqueue(s *session, ev event) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.queue <- ev:
	default:
		m.drop("queue_full")
		m.logger.Warn("event queue full, dropping event",
			"principal", s.principal, "type", ev.kind.String())
	}
}

// consume is the single consumer goroutine for one session. The
// cancellation check runs with priority before each queue read: once the
// session is torn down the in-flight event completes but nothing still
// queued is dispatched.
func (m *Manager) consume(s *session) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			m.process(s, ev)
		}
	}
}

// process handles one event. A failure or panic here is logged and
// contained: one bad event never kills the subscription.
func (m *Manager) process(s *session, ev event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event processing panicked",
				"principal", s.principal, "type", ev.kind.String(), "panic", r)
		}
	}()

	switch ev.kind {
	case eventPrivate:
		m.processPrivate(s, ev.data)
	case eventGroup:
		m.processGroup(s, ev.data)
	case eventReadStatus:
		m.processReadStatus(s, ev.data)
	case eventEnvelope:
		m.processEnvelope(s, ev.env)
	}
	if m.processed != nil {
		m.processed.WithLabelValues(ev.kind.String()).Inc()
	}
}

func (m *Manager) processPrivate(s *session, data []byte) {
	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		m.drop("decode_failed")
		m.logger.Warn("undecodable private message event", "principal", s.principal, "error", err)
		return
	}

	msg := m.enrich(s.ctx, &rec, types.ConversationPrivate)
	m.listeners.NotifyMessage(msg)

	if _, err := m.unread.IncrementPrivate(s.ctx, s.principal, rec.SenderID); err != nil {
		// Counter state reconciles on a later event
		m.logger.Warn("unread increment failed",
			"principal", s.principal, "sender", rec.SenderID, "error", err)
	}

	m.dispatchNotification(s.ctx, msg)
}

func (m *Manager) processGroup(s *session, data []byte) {
	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		m.drop("decode_failed")
		m.logger.Warn("undecodable group message event", "principal", s.principal, "error", err)
		return
	}

	// Membership gate: drop silently when membership cannot be
	// confirmed, so former members never learn about new traffic
	member, err := m.groups.IsMember(s.ctx, rec.GroupID, s.principal)
	if err != nil || !member {
		m.drop("not_member")
		m.logger.Debug("group event dropped",
			"principal", s.principal, "group", rec.GroupID, "member", member, "error", err)
		return
	}

	msg := m.enrich(s.ctx, &rec, types.ConversationGroup)
	m.listeners.NotifyMessage(msg)
	m.dispatchNotification(s.ctx, msg)
}

func (m *Manager) processReadStatus(s *session, data []byte) {
	var rec ReadStatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		m.drop("decode_failed")
		m.logger.Warn("undecodable read-status event", "principal", s.principal, "error", err)
		return
	}
	if rec.MemberID != "" && rec.MemberID != s.principal {
		return
	}

	// Recompute from the authoritative flag table, never decrement
	if _, err := m.unread.RecomputeGroupUnread(s.ctx, s.principal, rec.GroupID); err != nil {
		m.logger.Warn("group unread recompute failed",
			"principal", s.principal, "group", rec.GroupID, "error", err)
	}
}

// processEnvelope handles the generic notification channel. Chat
// payloads are routed like feed events; other kinds only reach the log.
func (m *Manager) processEnvelope(s *session, env *envelope.Envelope) {
	if env == nil {
		return
	}
	if env.Kind() != envelope.KindChatMessage {
		m.logger.Debug("notification envelope received",
			"principal", s.principal, "kind", env.Kind().String(), "id", env.ID())
		return
	}
	if len(env.Payload()) == 0 {
		return
	}
	var rec MessageRecord
	if err := json.Unmarshal(env.Payload(), &rec); err != nil {
		m.drop("decode_failed")
		m.logger.Warn("undecodable chat envelope", "principal", s.principal, "error", err)
		return
	}
	if rec.GroupID != "" {
		m.processGroup(s, env.Payload())
	} else {
		m.processPrivate(s, env.Payload())
	}
}

// enrich resolves the sender profile, cache-first. A failed lookup
// falls back to a nil profile, rendered as "unknown user".
func (m *Manager) enrich(ctx context.Context, rec *MessageRecord, kind types.ConversationKind) *types.Message {
	msg := &types.Message{
		ID:           rec.ID,
		Conversation: kind,
		SenderID:     rec.SenderID,
		GroupID:      rec.GroupID,
		RecipientID:  rec.RecipientID,
		Content:      rec.Content,
		ContentType:  types.ContentType(rec.ContentType),
		SentAt:       time.UnixMilli(rec.SentAt),
	}
	if msg.ContentType == "" {
		msg.ContentType = types.ContentText
	}
	msg.Sender = m.lookupProfile(ctx, rec.SenderID)
	return msg
}

func (m *Manager) lookupProfile(ctx context.Context, userID string) *store.Profile {
	if userID == "" {
		return nil
	}
	key := "profile:" + userID
	if m.profileCache != nil {
		if p, ok := m.profileCache.Get(key); ok {
			return p
		}
	}
	profile, err := m.profiles.GetProfile(ctx, userID)
	if err != nil {
		m.logger.Warn("profile lookup failed", "user", userID, "error", err)
		return nil
	}
	if m.profileCache != nil && profile != nil {
		if _, err := m.profileCache.Set(key, profile); err != nil {
			m.logger.Debug("profile cache set failed", "user", userID, "error", err)
		}
	}
	return profile
}

func (m *Manager) dispatchNotification(ctx context.Context, msg *types.Message) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Dispatch(ctx, msg); err != nil {
		m.logger.Warn("notification dispatch failed", "message", msg.ID, "error", err)
	}
}

func (m *Manager) drop(reason string) {
	if m.dropped != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}
