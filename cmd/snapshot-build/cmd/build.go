package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/internal/hypervisor"
	"github.com/opensandbox/opensandbox/internal/network"
	"github.com/opensandbox/opensandbox/internal/snapshotver"
	"github.com/opensandbox/opensandbox/internal/storage"
	"github.com/opensandbox/opensandbox/internal/vsockagent"
	"github.com/opensandbox/opensandbox/pkg/types"
)

// firstTemplateCID is the vsock CID used for the one-off template VM this
// command boots; it never runs alongside a live control plane, so it does
// not need to coordinate with the orchestrator's CID allocator.
const firstTemplateCID = 4999

func runBuild(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cpu := flagCPU
	if cpu == 0 {
		cpu = cfg.SnapshotTemplateCPU
	}
	memMb := flagMemMb
	if memMb == 0 {
		memMb = cfg.SnapshotTemplateMemMb
	}
	imageID := flagImageID
	if imageID == "" {
		imageID = "default"
	}
	baseRootfs := filepath.Join(cfg.ImagesDir, imageID, "rootfs.ext4")

	kernelBytes, err := os.ReadFile(cfg.KernelPath)
	if err != nil {
		return fmt.Errorf("read kernel %s: %w", cfg.KernelPath, err)
	}
	rootfsBytes, err := os.ReadFile(baseRootfs)
	if err != nil {
		return fmt.Errorf("read base rootfs %s: %w", baseRootfs, err)
	}
	snapshotID := snapshotver.TemplateID(kernelBytes, rootfsBytes)

	sp := storage.New(cfg.ChrootBase, cfg.StorageRoot, storage.CloneMode(cfg.RootfsCloneMode))
	nm, err := network.New(cfg.BridgeName, cfg.GatewayIP, cfg.SubnetCIDR)
	if err != nil {
		return fmt.Errorf("init network manager: %w", err)
	}
	hv := hypervisor.New(hypervisor.Config{
		FirecrackerBin: cfg.FirecrackerBin,
		JailerBin:      cfg.JailerBin,
		JailerUID:      cfg.JailerUID,
		JailerGID:      cfg.JailerGID,
	})

	vmID := "snapbuild-" + uuid.NewString()

	alloc, err := nm.AllocateIP()
	if err != nil {
		return fmt.Errorf("allocate IP: %w", err)
	}
	defer nm.Release(alloc.GuestIP)

	fmt.Printf("snapshot-build: booting template VM %s (cpu=%d memMb=%d image=%s)\n", vmID, cpu, memMb, imageID)

	rootfsPath, kernelPath, err := sp.PrepareVmStorage(vmID, cfg.KernelPath, baseRootfs, int64(memMb+1024)*(1<<20))
	if err != nil {
		return fmt.Errorf("prepare VM storage: %w", err)
	}
	defer sp.CleanupVmStorage(vmID)

	if err := nm.Configure(alloc.GuestIP, alloc.TapName, true, nil, true); err != nil {
		return fmt.Errorf("configure network: %w", err)
	}
	defer nm.Teardown(alloc.GuestIP, alloc.TapName)

	mac := hypervisor.DeterministicMAC(vmID)
	if _, err := hv.CreateAndStart(hypervisor.BootParams{
		VMID:       vmID,
		JailRoot:   sp.JailRoot(vmID),
		KernelPath: kernelPath,
		RootfsPath: rootfsPath,
		TapName:    alloc.TapName,
		GuestMAC:   mac,
		VsockCID:   firstTemplateCID,
		CPU:        cpu,
		MemMb:      memMb,
		GuestIP:    alloc.GuestIP,
		GatewayIP:  cfg.GatewayIP,
		Netmask:    "255.255.255.0",
	}); err != nil {
		return fmt.Errorf("spawn hypervisor: %w", err)
	}
	defer hv.Destroy(vmID)

	vsockPath := filepath.Join(sp.JailRoot(vmID), "run", "v.sock")
	client := vsockagent.New(vsockPath, cfg.AgentPort, cfg.Vsock)
	fmt.Println("snapshot-build: waiting for guest agent health")
	if err := waitHealthy(client, 60*time.Second); err != nil {
		return fmt.Errorf("template VM never became healthy: %w", err)
	}

	fmt.Println("snapshot-build: taking snapshot")
	paths, err := sp.GetSnapshotArtifactPaths(snapshotID)
	if err != nil {
		return fmt.Errorf("locate snapshot artifact paths: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(paths.StatePath), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := hv.CreateSnapshot(vmID, paths.StatePath, paths.MemPath); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	meta := types.SnapshotMeta{
		ID:        snapshotID,
		Kind:      types.SnapshotTemplate,
		CreatedAt: time.Now(),
		CPU:       cpu,
		MemMb:     memMb,
		ImageID:   imageID,
		HasDisk:   false,
	}
	if err := sp.WriteSnapshotMeta(snapshotID, meta); err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}

	fmt.Printf("snapshot-build: wrote template snapshot %s\n", snapshotID)
	return nil
}

func waitHealthy(client interface{ Health() error }, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := client.Health(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(250 * time.Millisecond)
	}
	return lastErr
}
