package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/petrijr/flowq/pkg/api"
)

// PostgresSimulationStore is a SimulationStore backed by PostgreSQL.
//
// It expects an *sql.DB opened with the pgx stdlib driver:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
type PostgresSimulationStore struct {
	db *sql.DB
}

var _ SimulationStore = (*PostgresSimulationStore)(nil)

// NewPostgresSimulationStore initializes the required schema in the given
// database and returns a new PostgresSimulationStore.
func NewPostgresSimulationStore(db *sql.DB) (*PostgresSimulationStore, error) {
	s := &PostgresSimulationStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSimulationStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_simulations (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL UNIQUE,
			flow_version_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL,
			created TIMESTAMPTZ NOT NULL,
			updated TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *PostgresSimulationStore) Save(ctx context.Context, sim *api.WebhookSimulation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_simulations (id, flow_id, flow_version_id, project_id, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			flow_version_id = EXCLUDED.flow_version_id,
			project_id = EXCLUDED.project_id,
			updated = EXCLUDED.updated
	`,
		sim.ID,
		sim.FlowID,
		sim.FlowVersionID,
		sim.ProjectID,
		sim.Created,
		sim.Updated,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrSimulationExists
	}
	return err
}

func (s *PostgresSimulationStore) GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, flow_version_id, project_id, created, updated
		FROM webhook_simulations
		WHERE flow_id = $1 AND project_id = $2
	`, flowID, projectID)

	var sim api.WebhookSimulation
	if err := row.Scan(&sim.ID, &sim.FlowID, &sim.FlowVersionID, &sim.ProjectID, &sim.Created, &sim.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSimulationNotFound
		}
		return nil, err
	}
	return &sim, nil
}

func (s *PostgresSimulationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_simulations WHERE id = $1`, id)
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
