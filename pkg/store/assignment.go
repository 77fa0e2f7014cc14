package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
)

// AssignmentStore persists agent-to-conductor assignments in Postgres,
// implementing conductor.AssignmentStore (cmd/gateway uses it in every
// mode, over SQLite in dev mode; the in-process map variant in
// pkg/conductor is used by tests).
type AssignmentStore struct {
	db *sql.DB
}

// NewAssignmentStore wraps an already-opened *sql.DB.
func NewAssignmentStore(db *sql.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

const assignmentSchema = `
CREATE TABLE IF NOT EXISTS conductor_assignments (
	agent_identifier TEXT PRIMARY KEY,
	conductor_id     TEXT NOT NULL,
	application_id   TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
`

// Init creates the schema if it does not already exist.
func (s *AssignmentStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, assignmentSchema)
	return err
}

// Get implements conductor.AssignmentStore.
func (s *AssignmentStore) Get(ctx context.Context, agentIdentifier string) (conductor.AgentAssignment, bool, error) {
	var a conductor.AgentAssignment
	var conductorID string
	row := s.db.QueryRowContext(ctx,
		"SELECT agent_identifier, conductor_id, application_id, created_at FROM conductor_assignments WHERE agent_identifier = $1",
		agentIdentifier)
	err := row.Scan(&a.AgentIdentifier, &conductorID, &a.ApplicationID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conductor.AgentAssignment{}, false, nil
	}
	if err != nil {
		return conductor.AgentAssignment{}, false, fmt.Errorf("store: get assignment: %w", err)
	}
	a.ConductorID = conductor.ConductorID(conductorID)
	return a, true, nil
}

// Put implements conductor.AssignmentStore with an upsert: an agent is
// assigned to exactly one conductor at a time.
func (s *AssignmentStore) Put(ctx context.Context, assignment conductor.AgentAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conductor_assignments (agent_identifier, conductor_id, application_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_identifier) DO UPDATE
		SET conductor_id = $2, application_id = $3, created_at = $4
	`, assignment.AgentIdentifier, string(assignment.ConductorID), assignment.ApplicationID, assignment.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: put assignment: %w", err)
	}
	return nil
}
