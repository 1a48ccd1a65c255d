package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opensandbox/opensandbox/pkg/types"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.999999999Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vms (
	id                TEXT PRIMARY KEY,
	created_at        TEXT NOT NULL,
	cpu               INT NOT NULL,
	mem_mb            INT NOT NULL,
	vsock_cid         INT NOT NULL,
	tap_name          TEXT NOT NULL,
	guest_ip          TEXT NOT NULL,
	outbound_internet INT NOT NULL DEFAULT 0,
	allow_ips         TEXT NOT NULL DEFAULT '[]',
	rootfs_path       TEXT NOT NULL,
	kernel_path       TEXT NOT NULL,
	logs_dir          TEXT NOT NULL,
	image_id          TEXT NOT NULL DEFAULT '',
	disk_size_mb      INT NOT NULL DEFAULT 0,
	state             TEXT NOT NULL,
	provision_mode    TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS vms_tap_name_active_idx
	ON vms (tap_name) WHERE state != 'DELETED';
CREATE UNIQUE INDEX IF NOT EXISTS vms_guest_ip_active_idx
	ON vms (guest_ip) WHERE state != 'DELETED';
CREATE UNIQUE INDEX IF NOT EXISTS vms_vsock_cid_active_idx
	ON vms (vsock_cid) WHERE state != 'DELETED';
`

// SQLiteStore is a single-host Store backed by a local SQLite file, used
// when no DatabaseURL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a WAL-mode SQLite file at
// dbPath and ensures its schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// CreateVM inserts a new VM row.
func (s *SQLiteStore) CreateVM(ctx context.Context, vm types.VmRecord) error {
	allowIPs, err := json.Marshal(vm.AllowIPs)
	if err != nil {
		return fmt.Errorf("store: marshal allowIps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vms (id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, vm.ID, vm.CreatedAt.Format(sqliteTimeLayout), vm.CPU, vm.MemMb,
		vm.VsockCID, vm.TapName, vm.GuestIP, boolToInt(vm.OutboundInternet), string(allowIPs),
		vm.RootfsPath, vm.KernelPath, vm.LogsDir, vm.ImageID, vm.DiskSizeMb,
		string(vm.State), string(vm.ProvisionMode), vm.LastError)
	if err != nil {
		return fmt.Errorf("store: insert VM %s: %w", vm.ID, err)
	}
	return nil
}

// UpdateVM rewrites every mutable column for one VM id.
func (s *SQLiteStore) UpdateVM(ctx context.Context, vm types.VmRecord) error {
	allowIPs, err := json.Marshal(vm.AllowIPs)
	if err != nil {
		return fmt.Errorf("store: marshal allowIps: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE vms SET cpu=?, mem_mb=?, vsock_cid=?, tap_name=?, guest_ip=?,
			outbound_internet=?, allow_ips=?, rootfs_path=?, kernel_path=?,
			logs_dir=?, image_id=?, disk_size_mb=?, state=?, provision_mode=?, last_error=?
		WHERE id=?
	`, vm.CPU, vm.MemMb, vm.VsockCID, vm.TapName, vm.GuestIP, boolToInt(vm.OutboundInternet),
		string(allowIPs), vm.RootfsPath, vm.KernelPath, vm.LogsDir, vm.ImageID, vm.DiskSizeMb,
		string(vm.State), string(vm.ProvisionMode), vm.LastError, vm.ID)
	if err != nil {
		return fmt.Errorf("store: update VM %s: %w", vm.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrNotFound{ID: vm.ID}
	}
	return nil
}

// GetVM fetches a VM by id.
func (s *SQLiteStore) GetVM(ctx context.Context, id string) (types.VmRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error
		FROM vms WHERE id=?
	`, id)
	vm, err := scanSQLiteVM(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.VmRecord{}, &ErrNotFound{ID: id}
		}
		return types.VmRecord{}, fmt.Errorf("store: get VM %s: %w", id, err)
	}
	return vm, nil
}

// ListVMs returns all non-DELETED VMs.
func (s *SQLiteStore) ListVMs(ctx context.Context) ([]types.VmRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, cpu, mem_mb, vsock_cid, tap_name, guest_ip,
			outbound_internet, allow_ips, rootfs_path, kernel_path, logs_dir, image_id,
			disk_size_mb, state, provision_mode, last_error
		FROM vms WHERE state != ? ORDER BY created_at
	`, string(types.StateDeleted))
	if err != nil {
		return nil, fmt.Errorf("store: list VMs: %w", err)
	}
	defer rows.Close()

	var out []types.VmRecord
	for rows.Next() {
		vm, err := scanSQLiteVM(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan VM row: %w", err)
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// DeleteVM marks a VM row as DELETED (tombstone; the row is retained).
func (s *SQLiteStore) DeleteVM(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE vms SET state=? WHERE id=?`, string(types.StateDeleted), id)
	if err != nil {
		return fmt.Errorf("store: delete VM %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

// NormalizeOnStartup rewrites any VM in {STARTING,RUNNING,STOPPING} to
// STOPPED.
func (s *SQLiteStore) NormalizeOnStartup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vms SET state=? WHERE state IN (?, ?, ?)
	`, string(types.StateStopped), string(types.StateStarting), string(types.StateRunning), string(types.StateStopping))
	if err != nil {
		return fmt.Errorf("store: normalize on startup: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSQLiteVM(row rowScanner) (types.VmRecord, error) {
	var vm types.VmRecord
	var createdAt, allowIPs, state, provisionMode string
	var outbound int

	err := row.Scan(&vm.ID, &createdAt, &vm.CPU, &vm.MemMb, &vm.VsockCID, &vm.TapName, &vm.GuestIP,
		&outbound, &allowIPs, &vm.RootfsPath, &vm.KernelPath, &vm.LogsDir, &vm.ImageID,
		&vm.DiskSizeMb, &state, &provisionMode, &vm.LastError)
	if err != nil {
		return vm, err
	}
	vm.State = types.State(state)
	vm.ProvisionMode = types.ProvisionMode(provisionMode)
	vm.OutboundInternet = outbound != 0
	if allowIPs != "" {
		if err := json.Unmarshal([]byte(allowIPs), &vm.AllowIPs); err != nil {
			return vm, fmt.Errorf("unmarshal allowIps: %w", err)
		}
	}
	if t, err := time.Parse(sqliteTimeLayout, createdAt); err == nil {
		vm.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		vm.CreatedAt = t
	}
	return vm, nil
}
