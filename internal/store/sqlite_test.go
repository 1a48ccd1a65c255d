package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/opensandbox/opensandbox/pkg/types"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sandboxd.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testVM(id string) types.VmRecord {
	return types.VmRecord{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		CPU:       2,
		MemMb:     512,
		VsockCID:  3,
		TapName:   "tap0",
		GuestIP:   "172.16.0.2",
		AllowIPs:  []string{"1.1.1.1/32"},
		State:     types.StateCreated,
	}
}

func TestSQLiteCreateGetVM(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	vm := testVM("vm-1")
	if err := s.CreateVM(ctx, vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	got, err := s.GetVM(ctx, "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.TapName != vm.TapName || got.GuestIP != vm.GuestIP {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if len(got.AllowIPs) != 1 || got.AllowIPs[0] != "1.1.1.1/32" {
		t.Fatalf("allowIps round trip mismatch: %+v", got.AllowIPs)
	}
}

func TestSQLiteGetVMNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.GetVM(context.Background(), "missing")
	if _, ok := err.(*ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteUpdateVM(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	vm := testVM("vm-2")
	if err := s.CreateVM(ctx, vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	vm.State = types.StateRunning
	vm.LastError = ""
	if err := s.UpdateVM(ctx, vm); err != nil {
		t.Fatalf("UpdateVM: %v", err)
	}

	got, err := s.GetVM(ctx, "vm-2")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.State != types.StateRunning {
		t.Fatalf("expected state RUNNING, got %s", got.State)
	}
}

func TestSQLiteUpdateVMNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.UpdateVM(context.Background(), testVM("ghost"))
	if _, ok := err.(*ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteListVMsExcludesDeleted(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a, b := testVM("vm-a"), testVM("vm-b")
	b.TapName, b.GuestIP, b.VsockCID = "tap1", "172.16.0.3", 4
	if err := s.CreateVM(ctx, a); err != nil {
		t.Fatalf("CreateVM a: %v", err)
	}
	if err := s.CreateVM(ctx, b); err != nil {
		t.Fatalf("CreateVM b: %v", err)
	}
	if err := s.DeleteVM(ctx, "vm-b"); err != nil {
		t.Fatalf("DeleteVM: %v", err)
	}

	list, err := s.ListVMs(ctx)
	if err != nil {
		t.Fatalf("ListVMs: %v", err)
	}
	if len(list) != 1 || list[0].ID != "vm-a" {
		t.Fatalf("expected only vm-a, got %+v", list)
	}
}

func TestSQLiteNormalizeOnStartup(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, st := range []types.State{types.StateStarting, types.StateRunning, types.StateStopping, types.StateStopped} {
		vm := testVM("vm-" + string(st))
		vm.TapName = "tap" + strconv.Itoa(i)
		vm.GuestIP = "172.16.0." + strconv.Itoa(i+2)
		vm.VsockCID = uint32(3 + i)
		vm.State = st
		if err := s.CreateVM(ctx, vm); err != nil {
			t.Fatalf("CreateVM %s: %v", st, err)
		}
	}

	if err := s.NormalizeOnStartup(ctx); err != nil {
		t.Fatalf("NormalizeOnStartup: %v", err)
	}

	list, err := s.ListVMs(ctx)
	if err != nil {
		t.Fatalf("ListVMs: %v", err)
	}
	for _, vm := range list {
		if vm.State != types.StateStopped {
			t.Fatalf("vm %s still in transient state %s after normalize", vm.ID, vm.State)
		}
	}
}
