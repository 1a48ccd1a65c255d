package orchestrator

import (
	"context"
	"errors"
	"testing"

	opstore "github.com/opensandbox/opensandbox/internal/store"
	"github.com/opensandbox/opensandbox/pkg/types"
)

type fakeStore struct {
	opstore.Store
	vm  types.VmRecord
	err error
}

func (f *fakeStore) GetVM(ctx context.Context, id string) (types.VmRecord, error) {
	return f.vm, f.err
}

func TestGetVMTranslatesNotFound(t *testing.T) {
	o := &Orchestrator{store: &fakeStore{err: &opstore.ErrNotFound{ID: "vm-1"}}}

	_, err := o.getVM(context.Background(), "vm-1")
	oerr, ok := err.(*Error)
	if !ok || oerr.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestGetVMTranslatesOtherStoreErrorsToStorageKind(t *testing.T) {
	o := &Orchestrator{store: &fakeStore{err: errors.New("connection reset")}}

	_, err := o.getVM(context.Background(), "vm-1")
	oerr, ok := err.(*Error)
	if !ok || oerr.Kind != KindStorage {
		t.Fatalf("expected KindStorage for a non-not-found store error, got %v", err)
	}
}

func TestGetVMReturnsRecordOnSuccess(t *testing.T) {
	want := types.VmRecord{ID: "vm-1", State: types.StateRunning}
	o := &Orchestrator{store: &fakeStore{vm: want}}

	got, err := o.getVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("expected VM %q, got %q", want.ID, got.ID)
	}
}
