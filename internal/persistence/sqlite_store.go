package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// SQLiteSimulationStore is a SimulationStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteSimulationStore struct {
	db *sql.DB
}

var _ SimulationStore = (*SQLiteSimulationStore)(nil)

// NewSQLiteSimulationStore initializes the required schema in the given
// database and returns a new SQLiteSimulationStore.
func NewSQLiteSimulationStore(db *sql.DB) (*SQLiteSimulationStore, error) {
	s := &SQLiteSimulationStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSimulationStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_simulations (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL UNIQUE,
			flow_version_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteSimulationStore) Save(ctx context.Context, sim *api.WebhookSimulation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_simulations (id, flow_id, flow_version_id, project_id, created, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			flow_id = excluded.flow_id,
			flow_version_id = excluded.flow_version_id,
			project_id = excluded.project_id,
			updated = excluded.updated`,
		sim.ID,
		sim.FlowID,
		sim.FlowVersionID,
		sim.ProjectID,
		sim.Created.UnixMilli(),
		sim.Updated.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrSimulationExists
	}
	return err
}

func (s *SQLiteSimulationStore) GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, flow_version_id, project_id, created, updated
		FROM webhook_simulations
		WHERE flow_id = ? AND project_id = ?`,
		flowID, projectID,
	)

	var sim api.WebhookSimulation
	var created, updated int64
	if err := row.Scan(&sim.ID, &sim.FlowID, &sim.FlowVersionID, &sim.ProjectID, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSimulationNotFound
		}
		return nil, err
	}
	sim.Created = time.UnixMilli(created).UTC()
	sim.Updated = time.UnixMilli(updated).UTC()
	return &sim, nil
}

func (s *SQLiteSimulationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_simulations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSimulationNotFound
	}
	return nil
}
