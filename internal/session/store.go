package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/internal/stage"
)

// Store persists sessions in SQLite, one row per (project, stage).
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "session_store").Logger()}
}

// Load returns the session for (projectID, stage), or nil if none exists.
func (s *Store) Load(ctx context.Context, projectID string, st stage.Stage) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mode, messages, artifact, topics, snapshots, updated_at
		FROM sessions WHERE project_id = ? AND stage = ?`,
		projectID, st.String())

	var (
		mode      string
		messages  string
		artifact  string
		topics    string
		snapshots string
		updatedAt time.Time
	)
	if err := row.Scan(&mode, &messages, &artifact, &topics, &snapshots, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess := New(projectID, st, stage.ComplexityMode(mode))
	sess.Artifact = artifact
	sess.UpdatedAt = updatedAt
	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &sess.CompletedTopics); err != nil {
		return nil, fmt.Errorf("decode session topics: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshots), &sess.UpstreamSnapshots); err != nil {
		return nil, fmt.Errorf("decode session snapshots: %w", err)
	}
	return sess, nil
}

// Save upserts the session row and stamps UpdatedAt. At most one row per
// (project, stage) can ever exist; a second save for the same key updates in
// place, the second writer winning.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	if sess.CompletedTopics == nil {
		sess.CompletedTopics = []string{}
	}
	topics, err := json.Marshal(sess.CompletedTopics)
	if err != nil {
		return fmt.Errorf("encode session topics: %w", err)
	}
	if sess.UpstreamSnapshots == nil {
		sess.UpstreamSnapshots = map[string]string{}
	}
	snapshots, err := json.Marshal(sess.UpstreamSnapshots)
	if err != nil {
		return fmt.Errorf("encode session snapshots: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (project_id, stage, mode, messages, artifact, topics, snapshots, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, stage) DO UPDATE SET
			mode       = excluded.mode,
			messages   = excluded.messages,
			artifact   = excluded.artifact,
			topics     = excluded.topics,
			snapshots  = excluded.snapshots,
			updated_at = excluded.updated_at`,
		sess.ProjectID, sess.Stage.String(), string(sess.Mode),
		string(messages), sess.Artifact, string(topics), string(snapshots),
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.logger.Debug().
		Str("project", sess.ProjectID).
		Str("stage", sess.Stage.String()).
		Int("messages", len(sess.Messages)).
		Msg("session saved")
	return nil
}

// Delete hard-deletes the session row. No tombstone; completed-topic and
// artifact state is gone for good.
func (s *Store) Delete(ctx context.Context, projectID string, st stage.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE project_id = ? AND stage = ?`,
		projectID, st.String())
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info().
		Str("project", projectID).
		Str("stage", st.String()).
		Msg("session deleted")
	return nil
}
