package walletbridge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/internal/platform"
)

// Store persists registry entries in Postgres, generalizing the
// teacher's tenant Provisioner (schema-per-tenant, idempotent insert)
// to role-per-node rows in a single shared table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool. Schema setup is the caller's
// responsibility via RunMigrations.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunMigrations applies the walletbridge schema (spec §4.H:
// "registration is idempotent per (node_id, role)" — enforced here by
// the table's composite primary key plus ON CONFLICT DO NOTHING),
// via the teacher's internal/platform file-source migrator rather than
// reimplementing it.
func RunMigrations(databaseURL, migrationsDir string) error {
	if err := platform.RunGlobalMigrations(databaseURL, migrationsDir); err != nil {
		return fmt.Errorf("running walletbridge migrations: %w", err)
	}
	return nil
}

// Upsert registers entry idempotently: a repeat call for the same
// (node_id, role) is a no-op against the stored row, matching the
// teacher's "Provision is safe to retry" contract.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO walletbridge_registry
			(node_id, role, endpoint, port, stake, authority_level, capabilities, registered_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (node_id, role) DO NOTHING
	`, e.NodeID, int(e.Role), e.Endpoint, e.Port, int64(e.Stake), int(e.AuthorityLevel), e.Capabilities, e.RegisteredAt, e.LastActivity)
	if err != nil {
		return fmt.Errorf("upserting registry entry: %w", err)
	}
	return nil
}

// Get fetches one registry entry.
func (s *Store) Get(ctx context.Context, nodeID string, role Role) (Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT node_id, role, endpoint, port, stake, authority_level, capabilities, registered_at, last_activity
		FROM walletbridge_registry WHERE node_id=$1 AND role=$2
	`, nodeID, int(role))

	var e Entry
	var roleInt, authorityInt int
	var stake int64
	if err := row.Scan(&e.NodeID, &roleInt, &e.Endpoint, &e.Port, &stake, &authorityInt, &e.Capabilities, &e.RegisteredAt, &e.LastActivity); err != nil {
		return Entry{}, apperrors.Wrap(apperrors.KindNotFound, err)
	}
	e.Role = Role(roleInt)
	e.AuthorityLevel = AuthorityLevel(authorityInt)
	e.Stake = uint64(stake)
	return e, nil
}

// List returns every role registered for nodeID.
func (s *Store) List(ctx context.Context, nodeID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, role, endpoint, port, stake, authority_level, capabilities, registered_at, last_activity
		FROM walletbridge_registry WHERE node_id=$1 ORDER BY role
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing registry entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var roleInt, authorityInt int
		var stake int64
		if err := rows.Scan(&e.NodeID, &roleInt, &e.Endpoint, &e.Port, &stake, &authorityInt, &e.Capabilities, &e.RegisteredAt, &e.LastActivity); err != nil {
			return nil, fmt.Errorf("scanning registry entry: %w", err)
		}
		e.Role = Role(roleInt)
		e.AuthorityLevel = AuthorityLevel(authorityInt)
		e.Stake = uint64(stake)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Heartbeat bumps last_activity for every role registered to nodeID.
func (s *Store) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE walletbridge_registry SET last_activity = now() WHERE node_id=$1`, nodeID)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	return nil
}
