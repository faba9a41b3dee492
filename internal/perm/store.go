package perm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viaclara/clarad/internal/lifx"
)

// Store persists users, grants and resolved permission sets. All calls use
// short, non-overlapping transactions; no transaction spans a network call.
type Store struct {
	db *sql.DB
}

// NewStore creates a permission store on an initialized database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureDefaultUsers creates the admin and guest identities if missing
func (s *Store) EnsureDefaultUsers(ctx context.Context) error {
	now := time.Now().UTC().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, is_admin, is_guest, nlp_enabled, created_at)
		SELECT 'admin', 1, 0, 1, ? WHERE NOT EXISTS (SELECT 1 FROM users WHERE username = 'admin')
	`, now)
	if err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, is_admin, is_guest, nlp_enabled, created_at)
		SELECT 'guest', 0, 1, 0, ? WHERE NOT EXISTS (SELECT 1 FROM users WHERE is_guest = 1)
	`, now)
	if err != nil {
		return fmt.Errorf("failed to ensure guest user: %w", err)
	}

	return nil
}

// CreateUser adds a named user
func (s *Store) CreateUser(ctx context.Context, username string, isAdmin bool) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, is_admin, is_guest, nlp_enabled, created_at)
		VALUES (?, ?, 0, 1, ?)
	`, username, isAdmin, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username, IsAdmin: isAdmin, NLPEnabled: true, CreatedAt: now}, nil
}

// GetUser returns a user by username, or nil when absent
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, is_admin, is_guest, nlp_enabled, created_at
		FROM users WHERE username = ?
	`, username))
}

// GuestUser returns the guest identity used for anonymous requests
func (s *Store) GuestUser(ctx context.Context) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, is_admin, is_guest, nlp_enabled, created_at
		FROM users WHERE is_guest = 1
	`))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Username, &u.IsAdmin, &u.IsGuest, &u.NLPEnabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// Grant adds a permission grant and synchronously re-resolves the user's
// cascade against the given snapshot. A nil snapshot rejects the save with
// ErrResolutionFailed; the stored grants and cascade stay untouched.
func (s *Store) Grant(ctx context.Context, userID int64, kind Kind, value string, snap *lifx.Snapshot) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if snap == nil {
		return fmt.Errorf("%w: no directory snapshot available", ErrResolutionFailed)
	}

	return s.saveAndResolve(ctx, userID, snap, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO permission_grants (user_id, kind, value, created_at)
			VALUES (?, ?, ?, ?)
		`, userID, string(kind), norm(value), time.Now().UTC().Unix())
		return err
	})
}

// Revoke removes a grant and re-resolves the cascade, same rules as Grant
func (s *Store) Revoke(ctx context.Context, userID int64, kind Kind, value string, snap *lifx.Snapshot) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if snap == nil {
		return fmt.Errorf("%w: no directory snapshot available", ErrResolutionFailed)
	}

	return s.saveAndResolve(ctx, userID, snap, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM permission_grants WHERE user_id = ? AND kind = ? AND value = ?
		`, userID, string(kind), norm(value))
		return err
	})
}

// saveAndResolve applies a grant mutation and replaces the stored resolved
// set from the post-mutation grants, in a single transaction.
func (s *Store) saveAndResolve(ctx context.Context, userID int64, snap *lifx.Snapshot, mutate func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := mutate(tx); err != nil {
		return fmt.Errorf("failed to update grants: %w", err)
	}

	grants, err := listGrantsTx(ctx, tx, userID)
	if err != nil {
		return err
	}

	resolved := ResolveCascade(grants, snap)

	if _, err := tx.ExecContext(ctx, `DELETE FROM resolved_permissions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear resolved permissions: %w", err)
	}

	now := time.Now().UTC().Unix()
	insert := func(kind Kind, labels map[string]struct{}) error {
		for label := range labels {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO resolved_permissions (user_id, kind, label, resolved_at)
				VALUES (?, ?, ?, ?)
			`, userID, string(kind), label, now); err != nil {
				return fmt.Errorf("failed to store resolved permission: %w", err)
			}
		}
		return nil
	}
	if err := insert(KindDevice, resolved.Devices); err != nil {
		return err
	}
	if err := insert(KindGroup, resolved.Groups); err != nil {
		return err
	}
	if err := insert(KindScene, resolved.Scenes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant save: %w", err)
	}

	log.Debug().
		Int64("user_id", userID).
		Int("devices", len(resolved.Devices)).
		Int("groups", len(resolved.Groups)).
		Int("scenes", len(resolved.Scenes)).
		Msg("Permission cascade resolved")
	return nil
}

// ListGrants returns all grants for a user
func (s *Store) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, kind, value FROM permission_grants
		WHERE user_id = ? ORDER BY kind, value
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func listGrantsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]Grant, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, kind, value FROM permission_grants
		WHERE user_id = ? ORDER BY kind, value
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]Grant, error) {
	var grants []Grant
	for rows.Next() {
		var g Grant
		var kind string
		if err := rows.Scan(&g.UserID, &kind, &g.Value); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Kind = Kind(kind)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Resolved returns the stored resolved permission set for a user. It reads
// the cascade computed at the last grant-save; it does not recompute.
func (s *Store) Resolved(ctx context.Context, userID int64) (*ResolvedSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, label FROM resolved_permissions WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolved permissions: %w", err)
	}
	defer rows.Close()

	set := newResolvedSet()
	for rows.Next() {
		var kind, label string
		if err := rows.Scan(&kind, &label); err != nil {
			return nil, fmt.Errorf("failed to scan resolved permission: %w", err)
		}
		switch Kind(kind) {
		case KindDevice:
			set.Devices[label] = struct{}{}
		case KindGroup:
			set.Groups[label] = struct{}{}
		case KindScene:
			set.Scenes[label] = struct{}{}
		}
	}
	return set, rows.Err()
}
