package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/store"
)

// SQLiteStore persists snapshots in the snapshots table, one row per
// project id.
type SQLiteStore struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewSQLiteStore creates a snapshot store backed by the shared database.
func NewSQLiteStore(ds *store.Store, logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		ds:     ds,
		logger: logger.With().Str("component", "snapshot.store").Logger(),
	}
}

func (s *SQLiteStore) Load(ctx context.Context, projectID string) ([]byte, error) {
	var state string
	err := s.ds.DB().QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE project_id = ?`, projectID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return []byte(state), nil
}

func (s *SQLiteStore) Save(ctx context.Context, projectID string, state []byte) error {
	_, err := s.ds.DB().ExecContext(ctx, `
		INSERT INTO snapshots (project_id, state, updated_at)
		VALUES (?, ?, unixepoch('subsec') * 1000)
		ON CONFLICT(project_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, projectID, string(state))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, projectID string) error {
	_, err := s.ds.DB().ExecContext(ctx,
		`DELETE FROM snapshots WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
