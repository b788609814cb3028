// Package unread computes and persists unread counters for private and
// group conversations, invalidates the derived caches, and notifies
// unread-count listeners.
package unread

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Scl-Ywr/confession-wall-sub003/cache"
	"github.com/Scl-Ywr/confession-wall-sub003/errors"
	"github.com/Scl-Ywr/confession-wall-sub003/listener"
	"github.com/Scl-Ywr/confession-wall-sub003/metric"
	"github.com/Scl-Ywr/confession-wall-sub003/store"
	"github.com/Scl-Ywr/confession-wall-sub003/types"
)

// Invalidator is the slice of the cache layer the service needs: drop a
// derived entry by key. Absence of an entry never changes correctness.
type Invalidator interface {
	Delete(key string) (bool, error)
}

// Service keeps unread counters consistent across the two conversation
// shapes. Counters live in the external store; the cache holds only
// derived state.
type Service struct {
	store     store.ChatStore
	cache     Invalidator
	listeners *listener.Registry
	logger    *slog.Logger
	updates   *prometheus.CounterVec
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers unread-update metrics with the given registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Service) {
		if registry == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unread_updates_total",
			Help: "Unread counter updates by operation",
		}, []string{"operation"})
		if err := registry.RegisterCounterVec("unread", "unread_updates_total", vec); err != nil {
			s.logger.Warn("unread metrics registration failed", "error", err)
			return
		}
		s.updates = vec
	}
}

// NewService creates the unread counter service.
func NewService(chatStore store.ChatStore, inv Invalidator, listeners *listener.Registry, opts ...Option) *Service {
	s := &Service{
		store:     chatStore,
		cache:     inv,
		listeners: listeners,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementPrivate bumps the unread counter for (viewer, peer) by one and
// returns the new value.
//
// The increment is a read-then-write against the shared counter, not an
// atomic datastore increment: two events arriving near-simultaneously from
// different processes can lose an increment. This mirrors the original
// behavior; the postgres store offers IncrementPrivateCount for callers
// that want the race closed.
func (s *Service) IncrementPrivate(ctx context.Context, viewer, peer string) (int, error) {
	current, err := s.store.PrivateCount(ctx, viewer, peer)
	if err != nil {
		// Abandon the state change; a later event reconciles naturally
		s.logger.Warn("unread counter read failed",
			"viewer", viewer, "peer", peer, "error", err)
		return 0, errors.Wrap(err, "Service", "IncrementPrivate", "read counter")
	}

	next := current + 1
	if err := s.store.SetPrivateCount(ctx, viewer, peer, next); err != nil {
		s.logger.Warn("unread counter write failed",
			"viewer", viewer, "peer", peer, "error", err)
		return 0, errors.Wrap(err, "Service", "IncrementPrivate", "write counter")
	}

	s.invalidate(cache.ConversationListKey(viewer), cache.UnreadCountKey(viewer, peer))
	s.count("increment_private")

	s.listeners.NotifyUnread(types.UnreadUpdate{
		Conversation:  types.ConversationPrivate,
		ViewerID:      viewer,
		CounterpartID: peer,
		Count:         next,
	})

	return next, nil
}

// RecomputeGroupUnread derives the member's unread count for a group from
// the authoritative read-flag table and returns it. It never decrements a
// cached number.
func (s *Service) RecomputeGroupUnread(ctx context.Context, member, group string) (int, error) {
	count, err := s.store.CountUnreadFlags(ctx, member, group)
	if err != nil {
		s.logger.Warn("group unread recompute failed",
			"member", member, "group", group, "error", err)
		return 0, errors.Wrap(err, "Service", "RecomputeGroupUnread", "count flags")
	}

	s.invalidate(cache.GroupListKey(member), cache.UnreadCountKey(member, group))
	s.count("recompute_group")

	s.listeners.NotifyUnread(types.UnreadUpdate{
		Conversation:  types.ConversationGroup,
		ViewerID:      member,
		CounterpartID: group,
		Count:         count,
	})

	return count, nil
}

// MarkRead marks messages as read for the viewer and resets the
// conversation's unread state. Idempotent: repeating the call leaves the
// counter at 0.
//
// By convention listeners always see 0 from a mark-read, regardless of
// concurrently-arriving messages; those arrive through their own events.
func (s *Service) MarkRead(
	ctx context.Context, viewer string, messageIDs []string,
	kind types.ConversationKind, counterpartID string,
) error {
	switch kind {
	case types.ConversationPrivate:
		if err := s.store.MarkMessagesRead(ctx, messageIDs); err != nil {
			s.logger.Warn("mark messages read failed", "viewer", viewer, "error", err)
			return errors.Wrap(err, "Service", "MarkRead", "mark messages")
		}
		if err := s.store.SetPrivateCount(ctx, viewer, counterpartID, 0); err != nil {
			s.logger.Warn("counter reset failed", "viewer", viewer, "error", err)
			return errors.Wrap(err, "Service", "MarkRead", "reset counter")
		}
		s.invalidate(cache.ConversationListKey(viewer), cache.UnreadCountKey(viewer, counterpartID))

	case types.ConversationGroup:
		if err := s.store.ClearFlags(ctx, messageIDs, viewer); err != nil {
			s.logger.Warn("read flag update failed", "viewer", viewer, "group", counterpartID, "error", err)
			return errors.Wrap(err, "Service", "MarkRead", "clear flags")
		}
		s.invalidate(cache.GroupListKey(viewer), cache.UnreadCountKey(viewer, counterpartID))

	default:
		return errors.WrapInvalid(fmt.Errorf("unknown conversation kind %d", kind),
			"Service", "MarkRead", "validate kind")
	}

	s.count("mark_read")

	s.listeners.NotifyUnread(types.UnreadUpdate{
		Conversation:  kind,
		ViewerID:      viewer,
		CounterpartID: counterpartID,
		Count:         0,
	})

	return nil
}

// invalidate drops derived cache entries, best-effort.
func (s *Service) invalidate(keys ...string) {
	if s.cache == nil {
		return
	}
	for _, key := range keys {
		if _, err := s.cache.Delete(key); err != nil {
			s.logger.Debug("cache invalidation failed", "key", key, "error", err)
		}
	}
}

func (s *Service) count(operation string) {
	if s.updates != nil {
		s.updates.WithLabelValues(operation).Inc()
	}
}
