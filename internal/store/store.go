// Package store persists VmRecords and normalizes transient lifecycle
// states on control-plane startup. Two backends share the Store interface:
// a PostgreSQL-backed store for a connected relational database, and a
// SQLite-backed store for single-host deployments.
package store

import (
	"context"

	"github.com/opensandbox/opensandbox/pkg/types"
)

// Store is the VM Store's create/update/get/list/delete contract.
type Store interface {
	CreateVM(ctx context.Context, vm types.VmRecord) error
	UpdateVM(ctx context.Context, vm types.VmRecord) error
	GetVM(ctx context.Context, id string) (types.VmRecord, error)
	ListVMs(ctx context.Context) ([]types.VmRecord, error)
	DeleteVM(ctx context.Context, id string) error

	// NormalizeOnStartup rewrites any VM row in {STARTING,RUNNING,STOPPING}
	// to STOPPED, since no hypervisor process survives a control-plane
	// restart (VmRecord invariant 6).
	NormalizeOnStartup(ctx context.Context) error

	Close()
}

// ErrNotFound is returned by GetVM when no row matches id.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return "store: no VM with id " + e.ID
}
