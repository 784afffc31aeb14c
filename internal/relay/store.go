package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/internal/stage"
)

// Store persists relay artifacts, one row per (project, fromStage).
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "relay_store").Logger()}
}

// Save upserts the relay row. A relay is written once per stage completion;
// the only rewrite path is a forced stage re-completion, which replaces it.
func (s *Store) Save(ctx context.Context, a *Artifact) error {
	if a.Snapshots == nil {
		a.Snapshots = map[string]string{}
	}
	snapshots, err := json.Marshal(a.Snapshots)
	if err != nil {
		return fmt.Errorf("encode relay snapshots: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relays (project_id, from_stage, core_soul, progress, handover, risks, snapshots, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, from_stage) DO UPDATE SET
			core_soul  = excluded.core_soul,
			progress   = excluded.progress,
			handover   = excluded.handover,
			risks      = excluded.risks,
			snapshots  = excluded.snapshots,
			created_at = excluded.created_at`,
		a.ProjectID, a.FromStage.String(), a.CoreSoul, a.Progress, a.Handover, a.Risks,
		string(snapshots), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save relay: %w", err)
	}

	s.logger.Info().
		Str("project", a.ProjectID).
		Str("from_stage", a.FromStage.String()).
		Msg("relay saved")
	return nil
}

// Get returns the relay for (projectID, fromStage), or nil if none exists.
func (s *Store) Get(ctx context.Context, projectID string, from stage.Stage) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT core_soul, progress, handover, risks, snapshots, created_at
		FROM relays WHERE project_id = ? AND from_stage = ?`,
		projectID, from.String())

	a := &Artifact{ProjectID: projectID, FromStage: from}
	var snapshots string
	if err := row.Scan(&a.CoreSoul, &a.Progress, &a.Handover, &a.Risks, &snapshots, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get relay: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshots), &a.Snapshots); err != nil {
		return nil, fmt.Errorf("decode relay snapshots: %w", err)
	}
	return a, nil
}

// Exists reports whether a relay row exists for (projectID, fromStage).
func (s *Store) Exists(ctx context.Context, projectID string, from stage.Stage) (bool, error) {
	var one int
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM relays WHERE project_id = ? AND from_stage = ?`,
		projectID, from.String())
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("relay exists: %w", err)
	}
	return true, nil
}

// List returns every relay for a project in pipeline order.
func (s *Store) List(ctx context.Context, projectID string) ([]*Artifact, error) {
	var out []*Artifact
	for _, st := range stage.All() {
		a, err := s.Get(ctx, projectID, st)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// Delete removes the relay for (projectID, fromStage), relocking the
// downstream stage.
func (s *Store) Delete(ctx context.Context, projectID string, from stage.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM relays WHERE project_id = ? AND from_stage = ?`,
		projectID, from.String())
	if err != nil {
		return fmt.Errorf("delete relay: %w", err)
	}
	return nil
}
