package snapshotver

import "testing"

func TestTemplateIDIsPureFunction(t *testing.T) {
	kernel := []byte("vmlinux-bytes")
	rootfs := []byte("rootfs-bytes")

	id1 := TemplateID(kernel, rootfs)
	id2 := TemplateID(kernel, rootfs)

	if id1 != id2 {
		t.Fatalf("expected deterministic id, got %s and %s", id1, id2)
	}
	if len(id1) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %s", len(id1), id1)
	}
}

func TestTemplateIDChangesWithInput(t *testing.T) {
	id1 := TemplateID([]byte("kernel-a"), []byte("rootfs-a"))
	id2 := TemplateID([]byte("kernel-b"), []byte("rootfs-a"))
	id3 := TemplateID([]byte("kernel-a"), []byte("rootfs-b"))

	if id1 == id2 || id1 == id3 || id2 == id3 {
		t.Fatalf("expected distinct ids for distinct inputs, got %s %s %s", id1, id2, id3)
	}
}
