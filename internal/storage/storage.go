// Package storage prepares and tears down the on-disk layout each VM's
// jail root needs: kernel + rootfs clone, disk growth, and snapshot
// artifact directories.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/KarpelesLab/reflink"

	"github.com/opensandbox/opensandbox/pkg/types"
)

// CloneMode selects how a base rootfs is cloned into a jail root.
type CloneMode string

const (
	CloneAuto    CloneMode = "auto"
	CloneReflink CloneMode = "reflink"
	CloneCopy    CloneMode = "copy"
)

// Provider prepares and cleans up per-VM storage under chrootBase, and
// manages snapshot artifact directories under storageRoot.
type Provider struct {
	ChrootBase  string
	StorageRoot string
	CloneMode   CloneMode
}

// New constructs a Provider rooted at the given jail and snapshot
// directories.
func New(chrootBase, storageRoot string, mode CloneMode) *Provider {
	return &Provider{ChrootBase: chrootBase, StorageRoot: storageRoot, CloneMode: mode}
}

// JailRoot returns the per-VM chroot directory.
func (p *Provider) JailRoot(vmID string) string {
	return filepath.Join(p.ChrootBase, vmID)
}

// PrepareVmStorage lays out a fresh jail root: logs/, run/, a copy of the
// kernel, and a clone of the base rootfs, optionally grown to diskSizeBytes.
func (p *Provider) PrepareVmStorage(vmID, kernelSrc, baseRootfs string, diskSizeBytes int64) (rootfsPath, kernelPath string, err error) {
	jail := p.JailRoot(vmID)
	if err := os.MkdirAll(filepath.Join(jail, "logs"), 0o750); err != nil {
		return "", "", fmt.Errorf("storage: mkdir logs: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(jail, "run"), 0o750); err != nil {
		return "", "", fmt.Errorf("storage: mkdir run: %w", err)
	}

	kernelPath = filepath.Join(jail, "vmlinux")
	if err := copyFile(kernelSrc, kernelPath); err != nil {
		return "", "", fmt.Errorf("storage: copy kernel: %w", err)
	}

	rootfsPath = filepath.Join(jail, "rootfs.ext4")
	if err := p.cloneFile(baseRootfs, rootfsPath); err != nil {
		return "", "", fmt.Errorf("storage: clone rootfs: %w", err)
	}

	if diskSizeBytes > 0 {
		if err := growExt4(rootfsPath, diskSizeBytes); err != nil {
			return "", "", fmt.Errorf("storage: grow rootfs: %w", err)
		}
	}

	if err := os.Chmod(rootfsPath, 0o660); err != nil {
		return "", "", fmt.Errorf("storage: chmod rootfs: %w", err)
	}

	return rootfsPath, kernelPath, nil
}

// PrepareVmStorageFromDisk is like PrepareVmStorage but the root disk comes
// from a snapshot's preserved disk image rather than a base rootfs template.
func (p *Provider) PrepareVmStorageFromDisk(vmID, kernelSrc, diskSrc string, diskSizeBytes int64) (rootfsPath, kernelPath string, err error) {
	return p.PrepareVmStorage(vmID, kernelSrc, diskSrc, diskSizeBytes)
}

// CleanupVmStorage removes the per-VM jail root. Best-effort.
func (p *Provider) CleanupVmStorage(vmID string) error {
	return os.RemoveAll(p.JailRoot(vmID))
}

// SnapshotArtifactPaths are the file paths that make up one snapshot.
type SnapshotArtifactPaths struct {
	Dir       string
	MemPath   string
	StatePath string
	DiskPath  string
	MetaPath  string
}

// GetSnapshotArtifactPaths returns (creating if necessary) the directory
// and file paths for a snapshot id.
func (p *Provider) GetSnapshotArtifactPaths(snapshotID string) (SnapshotArtifactPaths, error) {
	dir := filepath.Join(p.StorageRoot, "snapshots", snapshotID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return SnapshotArtifactPaths{}, fmt.Errorf("storage: mkdir snapshot dir: %w", err)
	}
	return SnapshotArtifactPaths{
		Dir:       dir,
		MemPath:   filepath.Join(dir, "mem.snap"),
		StatePath: filepath.Join(dir, "vmstate.snap"),
		DiskPath:  filepath.Join(dir, "disk.ext4"),
		MetaPath:  filepath.Join(dir, "meta.json"),
	}, nil
}

// CloneDisk clones src to dest using the configured clone mode; used to
// capture a VM's disk state at snapshot time.
func (p *Provider) CloneDisk(src, dest string) error {
	return p.cloneFile(src, dest)
}

// WriteSnapshotMeta serializes meta to the snapshot's meta.json.
func (p *Provider) WriteSnapshotMeta(snapshotID string, meta types.SnapshotMeta) error {
	paths, err := p.GetSnapshotArtifactPaths(snapshotID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot meta: %w", err)
	}
	return os.WriteFile(paths.MetaPath, b, 0o640)
}

// ReadSnapshotMeta reads and parses a snapshot's meta.json.
func (p *Provider) ReadSnapshotMeta(snapshotID string) (types.SnapshotMeta, error) {
	var meta types.SnapshotMeta
	paths, err := p.GetSnapshotArtifactPaths(snapshotID)
	if err != nil {
		return meta, err
	}
	b, err := os.ReadFile(paths.MetaPath)
	if err != nil {
		return meta, fmt.Errorf("storage: read snapshot meta: %w", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("storage: parse snapshot meta: %w", err)
	}
	return meta, nil
}

// ListSnapshots enumerates the ids of all snapshot directories under
// storageRoot/snapshots.
func (p *Provider) ListSnapshots() ([]string, error) {
	dir := filepath.Join(p.StorageRoot, "snapshots")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// cloneFile clones src to dest per the provider's CloneMode.
func (p *Provider) cloneFile(src, dest string) error {
	switch p.CloneMode {
	case CloneReflink:
		return reflink.Always(src, dest)
	case CloneCopy:
		return copyFile(src, dest)
	default: // auto
		if err := reflink.Always(src, dest); err == nil {
			return nil
		}
		return copyFile(src, dest)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o660)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// growExt4 truncates path up to size (if smaller) and grows the ext4
// filesystem inside it to fill the new space.
func growExt4(path string, size int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() >= size {
		return nil
	}
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if out, err := exec.Command("e2fsck", "-f", "-y", path).CombinedOutput(); err != nil {
		return fmt.Errorf("e2fsck: %w: %s", err, out)
	}
	if out, err := exec.Command("resize2fs", path).CombinedOutput(); err != nil {
		return fmt.Errorf("resize2fs: %w: %s", err, out)
	}
	return nil
}
