package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensandbox/opensandbox/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is a pgxpool-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and pings it.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate runs the embedded SQL migrations, tracked in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion); err != nil {
		return fmt.Errorf("store: get current migration version: %w", err)
	}

	migrations := []struct {
		version  int
		filename string
	}{
		{1, "migrations/001_initial.up.sql"},
	}

	for _, m := range migrations {
		if currentVersion >= m.version {
			continue
		}
		sql, err := migrationsFS.ReadFile(m.filename)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", m.filename, err)
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin migration tx: %w", err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("store: apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("store: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// CreateVM inserts a new VM row.
func (s *PostgresStore) CreateVM(ctx context.Context, vm types.VmRecord) error {
	allowIPs, err := json.Marshal(vm.AllowIPs)
	if err != nil {
		return fmt.Errorf("store: marshal allowIps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO vms (id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, vm.ID, vm.CreatedAt, vm.CPU, vm.MemMb, vm.VsockCID, vm.TapName, vm.GuestIP,
		vm.OutboundInternet, allowIPs, vm.RootfsPath, vm.KernelPath, vm.LogsDir, vm.ImageID,
		vm.DiskSizeMb, string(vm.State), string(vm.ProvisionMode), vm.LastError)
	if err != nil {
		return fmt.Errorf("store: insert VM %s: %w", vm.ID, err)
	}
	return nil
}

// UpdateVM rewrites every mutable column for one VM id in a single UPDATE
// statement. Concurrent updates to the same id may race; orchestrator
// discipline (one in-flight operation per VM) prevents this in practice.
func (s *PostgresStore) UpdateVM(ctx context.Context, vm types.VmRecord) error {
	allowIPs, err := json.Marshal(vm.AllowIPs)
	if err != nil {
		return fmt.Errorf("store: marshal allowIps: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE vms SET cpu=$2, mem_mb=$3, vsock_cid=$4, tap_name=$5, guest_ip=$6,
			outbound_internet=$7, allow_ips=$8, rootfs_path=$9, kernel_path=$10,
			logs_dir=$11, image_id=$12, disk_size_mb=$13, state=$14,
			provision_mode=$15, last_error=$16
		WHERE id=$1
	`, vm.ID, vm.CPU, vm.MemMb, vm.VsockCID, vm.TapName, vm.GuestIP,
		vm.OutboundInternet, allowIPs, vm.RootfsPath, vm.KernelPath, vm.LogsDir, vm.ImageID,
		vm.DiskSizeMb, string(vm.State), string(vm.ProvisionMode), vm.LastError)
	if err != nil {
		return fmt.Errorf("store: update VM %s: %w", vm.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{ID: vm.ID}
	}
	return nil
}

// GetVM fetches a VM by id.
func (s *PostgresStore) GetVM(ctx context.Context, id string) (types.VmRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error
		FROM vms WHERE id=$1
	`, id)
	vm, err := scanVM(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.VmRecord{}, &ErrNotFound{ID: id}
		}
		return types.VmRecord{}, fmt.Errorf("store: get VM %s: %w", id, err)
	}
	return vm, nil
}

// ListVMs returns all non-DELETED VMs.
func (s *PostgresStore) ListVMs(ctx context.Context) ([]types.VmRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error
		FROM vms WHERE state != $1 ORDER BY created_at
	`, string(types.StateDeleted))
	if err != nil {
		return nil, fmt.Errorf("store: list VMs: %w", err)
	}
	defer rows.Close()

	var out []types.VmRecord
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan VM row: %w", err)
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// DeleteVM marks a VM row as DELETED (tombstone; the row is retained).
func (s *PostgresStore) DeleteVM(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE vms SET state=$2 WHERE id=$1`, id, string(types.StateDeleted))
	if err != nil {
		return fmt.Errorf("store: delete VM %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

// NormalizeOnStartup rewrites any VM in {STARTING,RUNNING,STOPPING} to
// STOPPED, since hypervisor processes do not survive a restart.
func (s *PostgresStore) NormalizeOnStartup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE vms SET state=$1
		WHERE state = ANY($2)
	`, string(types.StateStopped), []string{
		string(types.StateStarting), string(types.StateRunning), string(types.StateStopping),
	})
	if err != nil {
		return fmt.Errorf("store: normalize on startup: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVM(row rowScanner) (types.VmRecord, error) {
	var vm types.VmRecord
	var allowIPs []byte
	var state, provisionMode string

	err := row.Scan(&vm.ID, &vm.CreatedAt, &vm.CPU, &vm.MemMb, &vm.VsockCID, &vm.TapName, &vm.GuestIP,
		&vm.OutboundInternet, &allowIPs, &vm.RootfsPath, &vm.KernelPath, &vm.LogsDir, &vm.ImageID,
		&vm.DiskSizeMb, &state, &provisionMode, &vm.LastError)
	if err != nil {
		return vm, err
	}
	vm.State = types.State(state)
	vm.ProvisionMode = types.ProvisionMode(provisionMode)
	if len(allowIPs) > 0 {
		if err := json.Unmarshal(allowIPs, &vm.AllowIPs); err != nil {
			return vm, fmt.Errorf("unmarshal allowIps: %w", err)
		}
	}
	return vm, nil
}
