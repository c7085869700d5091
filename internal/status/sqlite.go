// Package status supplies live runtime state for snapshot enrichment: a
// SQLite-backed store of per-node observations, refreshed by network
// probes.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"labtopo/internal/domain"
)

// Repository persists per-node runtime observations in SQLite. It is the
// durable side of status tracking: probes write observations, snapshot
// builds read them back.
type Repository struct {
	db *sql.DB

	// Observations older than freshness are ignored when deriving a
	// lab's deployment state.
	freshness time.Duration
}

// NewRepository opens (and migrates) the status database at dbPath.
func NewRepository(dbPath string, freshness time.Duration) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open status database: %w", err)
	}
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	repo := &Repository{db: db, freshness: freshness}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate status database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS node_runtime (
		lab TEXT NOT NULL,
		node TEXT NOT NULL,
		state TEXT NOT NULL,
		mgmt_ipv4 TEXT NOT NULL DEFAULT '',
		mgmt_ipv6 TEXT NOT NULL DEFAULT '',
		observed_at DATETIME NOT NULL,
		PRIMARY KEY (lab, node)
	);

	CREATE INDEX IF NOT EXISTS idx_node_runtime_lab ON node_runtime(lab);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Observation is one probe result for a node.
type Observation struct {
	Lab      string
	Node     string
	State    string
	MgmtIPv4 string
	MgmtIPv6 string
}

// Upsert records an observation, replacing any previous one for the same
// lab and node.
func (r *Repository) Upsert(ctx context.Context, obs Observation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO node_runtime (lab, node, state, mgmt_ipv4, mgmt_ipv6, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (lab, node) DO UPDATE SET
			state = excluded.state,
			mgmt_ipv4 = excluded.mgmt_ipv4,
			mgmt_ipv6 = excluded.mgmt_ipv6,
			observed_at = excluded.observed_at
	`, obs.Lab, obs.Node, obs.State, obs.MgmtIPv4, obs.MgmtIPv6, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert node runtime: %w", err)
	}
	return nil
}

// NodeStatus returns the freshest observation for one node, or nil when
// none exists or the stored one has gone stale.
func (r *Repository) NodeStatus(ctx context.Context, labName, nodeName string) (*domain.RuntimeStatus, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT state, mgmt_ipv4, mgmt_ipv6, observed_at
		FROM node_runtime
		WHERE lab = ? AND node = ?
	`, labName, nodeName)

	var st domain.RuntimeStatus
	var observedAt time.Time
	if err := row.Scan(&st.State, &st.MgmtIPv4, &st.MgmtIPv6, &observedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query node runtime: %w", err)
	}
	if time.Since(observedAt) > r.freshness {
		return nil, nil
	}
	return &st, nil
}

// DeploymentState derives a lab-wide state from fresh observations:
// deployed when any node is running, undeployed when observations exist
// but none are running, unknown without fresh observations.
func (r *Repository) DeploymentState(ctx context.Context, labName string) (domain.DeployState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state, observed_at FROM node_runtime WHERE lab = ?
	`, labName)
	if err != nil {
		return domain.DeployStateUnknown, fmt.Errorf("query deployment state: %w", err)
	}
	defer rows.Close()

	fresh := 0
	running := 0
	for rows.Next() {
		var state string
		var observedAt time.Time
		if err := rows.Scan(&state, &observedAt); err != nil {
			return domain.DeployStateUnknown, fmt.Errorf("scan deployment state: %w", err)
		}
		if time.Since(observedAt) > r.freshness {
			continue
		}
		fresh++
		if state == "running" {
			running++
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DeployStateUnknown, fmt.Errorf("scan deployment state: %w", err)
	}

	switch {
	case running > 0:
		return domain.DeployStateDeployed, nil
	case fresh > 0:
		return domain.DeployStateUndeployed, nil
	default:
		return domain.DeployStateUnknown, nil
	}
}
