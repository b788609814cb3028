// Package postgres implements the store interfaces over PostgreSQL.
// The pgx pool is owned by the caller; this store does not close it.
// Schema management (migrations) is handled outside this subsystem.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
	"github.com/Scl-Ywr/confession-wall-sub003/pkg/retry"
	"github.com/Scl-Ywr/confession-wall-sub003/store"
)

// Store implements store.ProfileStore, store.GroupStore and store.ChatStore
// over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a postgres-backed store on an existing pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil pool"), "Store", "New", "validate pool")
	}
	return &Store{pool: pool}, nil
}

// NewPool builds a pgx pool with connectivity validation.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Store", "NewPool", "parse database url")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "NewPool", "create pool")
	}

	// Databases coming up alongside the relay need a moment; retry the
	// ping with backoff before giving up
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "Store", "NewPool", "ping database")
	}

	return pool, nil
}

// GetProfile implements store.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	const q = `SELECT id, display_name, username, avatar_url
		FROM profiles WHERE id = $1`

	var p store.Profile
	err := s.pool.QueryRow(ctx, q, userID).Scan(&p.ID, &p.DisplayName, &p.Username, &p.AvatarURL)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "Store", "GetProfile", "query profile")
	}
	return &p, nil
}

// IsMember implements store.GroupStore.
func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM group_members WHERE group_id = $1 AND member_id = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, groupID, userID).Scan(&exists); err != nil {
		return false, errors.WrapTransient(err, "Store", "IsMember", "query membership")
	}
	return exists, nil
}

// PrivateCount implements store.ChatStore. A missing row reads as 0.
func (s *Store) PrivateCount(ctx context.Context, viewer, peer string) (int, error) {
	const q = `SELECT unread_count FROM friend_unread
		WHERE viewer_id = $1 AND peer_id = $2`

	var count int
	err := s.pool.QueryRow(ctx, q, viewer, peer).Scan(&count)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.WrapTransient(err, "Store", "PrivateCount", "read counter")
	}
	return count, nil
}

// SetPrivateCount implements store.ChatStore.
func (s *Store) SetPrivateCount(ctx context.Context, viewer, peer string, count int) error {
	if count < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative unread count %d", count),
			"Store", "SetPrivateCount", "validate count")
	}

	const q = `INSERT INTO friend_unread (viewer_id, peer_id, unread_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (viewer_id, peer_id) DO UPDATE SET unread_count = $3`

	if _, err := s.pool.Exec(ctx, q, viewer, peer, count); err != nil {
		return errors.WrapTransient(err, "Store", "SetPrivateCount", "write counter")
	}
	return nil
}

// IncrementPrivateCount atomically bumps the counter at the datastore level.
// The unread service deliberately does not use this path - it preserves the
// original read-then-write sequence - but it is available for callers that
// want the race closed.
func (s *Store) IncrementPrivateCount(ctx context.Context, viewer, peer string) (int, error) {
	const q = `INSERT INTO friend_unread (viewer_id, peer_id, unread_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (viewer_id, peer_id)
		DO UPDATE SET unread_count = friend_unread.unread_count + 1
		RETURNING unread_count`

	var count int
	if err := s.pool.QueryRow(ctx, q, viewer, peer).Scan(&count); err != nil {
		return 0, errors.WrapTransient(err, "Store", "IncrementPrivateCount", "increment counter")
	}
	return count, nil
}

// MarkMessagesRead implements store.ChatStore.
func (s *Store) MarkMessagesRead(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	const q = `UPDATE private_messages SET read = TRUE WHERE id = ANY($1)`

	if _, err := s.pool.Exec(ctx, q, messageIDs); err != nil {
		return errors.WrapTransient(err, "Store", "MarkMessagesRead", "mark messages")
	}
	return nil
}

// FlagUnread implements store.ChatStore. An existing flag - read or unread -
// is left untouched so a read flag can never flip back.
func (s *Store) FlagUnread(ctx context.Context, groupID, messageID, memberID string) error {
	const q = `INSERT INTO group_read_flags (group_id, message_id, member_id, read)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (message_id, member_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, groupID, messageID, memberID); err != nil {
		return errors.WrapTransient(err, "Store", "FlagUnread", "insert flag")
	}
	return nil
}

// ClearFlags implements store.ChatStore.
func (s *Store) ClearFlags(ctx context.Context, messageIDs []string, memberID string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	const q = `UPDATE group_read_flags SET read = TRUE
		WHERE member_id = $1 AND message_id = ANY($2)`

	if _, err := s.pool.Exec(ctx, q, memberID, messageIDs); err != nil {
		return errors.WrapTransient(err, "Store", "ClearFlags", "update flags")
	}
	return nil
}

// CountUnreadFlags implements store.ChatStore.
func (s *Store) CountUnreadFlags(ctx context.Context, memberID, groupID string) (int, error) {
	const q = `SELECT COUNT(*) FROM group_read_flags
		WHERE member_id = $1 AND group_id = $2 AND read = FALSE`

	var count int
	if err := s.pool.QueryRow(ctx, q, memberID, groupID).Scan(&count); err != nil {
		return 0, errors.WrapTransient(err, "Store", "CountUnreadFlags", "count flags")
	}
	return count, nil
}
