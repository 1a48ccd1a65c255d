// Package orchestrator composes the Storage Provider, Network Manager,
// Hypervisor Supervisor, Vsock Agent Client, and VM Store into the
// create/start/stop/destroy/snapshot workflows, enforcing quotas and
// emitting activity events.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/opensandbox/opensandbox/internal/activity"
	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/internal/hypervisor"
	"github.com/opensandbox/opensandbox/internal/network"
	"github.com/opensandbox/opensandbox/internal/snapshotver"
	"github.com/opensandbox/opensandbox/internal/storage"
	opstore "github.com/opensandbox/opensandbox/internal/store"
	"github.com/opensandbox/opensandbox/internal/vsockagent"
	"github.com/opensandbox/opensandbox/pkg/types"
)

const firstVsockCID = 5000

// Orchestrator is the Lifecycle Orchestrator.
type Orchestrator struct {
	cfg      *config.Config
	storage  *storage.Provider
	network  *network.Manager
	hv       *hypervisor.Supervisor
	store    opstore.Store
	activity *activity.Bus

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cidMu   sync.Mutex
	nextCID uint32
	usedCID map[uint32]bool
}

// New constructs an Orchestrator. Call SeedAllocators once at startup
// before serving requests.
func New(cfg *config.Config, sp *storage.Provider, nm *network.Manager, hv *hypervisor.Supervisor, st opstore.Store, bus *activity.Bus) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		storage:  sp,
		network:  nm,
		hv:       hv,
		store:    st,
		activity: bus,
		locks:    make(map[string]*sync.Mutex),
		nextCID:  firstVsockCID,
		usedCID:  make(map[uint32]bool),
	}
}

// SeedAllocators normalizes transient states and seeds the IP and vsock
// CID allocators from persisted records, so a restarted control plane
// does not reissue an address or CID still held by a live VM.
func (o *Orchestrator) SeedAllocators(ctx context.Context) error {
	if err := o.store.NormalizeOnStartup(ctx); err != nil {
		return fmt.Errorf("orchestrator: normalize on startup: %w", err)
	}
	vms, err := o.store.ListVMs(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: seed allocators: %w", err)
	}

	var guestIPs []string
	o.cidMu.Lock()
	for _, vm := range vms {
		guestIPs = append(guestIPs, vm.GuestIP)
		o.usedCID[vm.VsockCID] = true
		if vm.VsockCID >= o.nextCID {
			o.nextCID = vm.VsockCID + 1
		}
	}
	o.cidMu.Unlock()

	o.network.SeedAllocated(guestIPs)
	return nil
}

func (o *Orchestrator) allocateCID() uint32 {
	o.cidMu.Lock()
	defer o.cidMu.Unlock()
	for o.usedCID[o.nextCID] {
		o.nextCID++
	}
	cid := o.nextCID
	o.usedCID[cid] = true
	o.nextCID++
	return cid
}

func (o *Orchestrator) releaseCID(cid uint32) {
	o.cidMu.Lock()
	delete(o.usedCID, cid)
	o.cidMu.Unlock()
}

// lockFor serializes operations on a single VM id, per spec.md §5: "no two
// orchestrator actions on the same VM concurrently."
func (o *Orchestrator) lockFor(vmID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[vmID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[vmID] = l
	}
	return l
}

func (o *Orchestrator) publish(vmID, eventType string, meta map[string]interface{}) {
	if o.activity == nil {
		return
	}
	o.activity.Publish(activity.Event{Type: eventType, VmID: vmID, Meta: meta})
}

func (o *Orchestrator) activeVMCount(ctx context.Context) (int, error) {
	vms, err := o.store.ListVMs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, vm := range vms {
		if vm.State != types.StateDeleted {
			n++
		}
	}
	return n, nil
}

func (o *Orchestrator) baseRootfsPath(imageID string) string {
	if imageID == "" {
		return filepath.Join(o.cfg.ImagesDir, "rootfs.ext4")
	}
	return filepath.Join(o.cfg.ImagesDir, imageID+".ext4")
}

// Create runs the full create/start state machine described in spec.md
// §4.5: allocate resources, persist CREATED, boot or restore, then reach
// RUNNING via the health+allowlist barrier.
func (o *Orchestrator) Create(ctx context.Context, req types.CreateVmRequest) (types.VmRecord, error) {
	active, err := o.activeVMCount(ctx)
	if err != nil {
		return types.VmRecord{}, newError(KindStorage, "count active VMs", err)
	}

	baseRootfs := o.baseRootfsPath(req.ImageID)
	var baseBytes int64
	if info, err := os.Stat(baseRootfs); err == nil {
		baseBytes = info.Size()
	}

	diskSizeMb, qerr := validateCreate(req, o.cfg, active, baseBytes)
	if qerr != nil {
		return types.VmRecord{}, qerr
	}

	alloc, err := o.network.AllocateIP()
	if err != nil {
		return types.VmRecord{}, newError(KindStorage, "allocate guest IP", err)
	}
	cid := o.allocateCID()

	vmID := uuid.NewString()
	vm := types.VmRecord{
		ID:               vmID,
		CreatedAt:        time.Now().UTC(),
		CPU:              req.CPU,
		MemMb:            req.MemMb,
		VsockCID:         cid,
		TapName:          alloc.TapName,
		GuestIP:          alloc.GuestIP,
		OutboundInternet: req.OutboundInternet,
		AllowIPs:         req.AllowIPs,
		ImageID:          req.ImageID,
		DiskSizeMb:       diskSizeMb,
		State:            types.StateCreated,
	}

	rollback := func() {
		o.network.Release(vm.GuestIP)
		o.releaseCID(cid)
	}

	if err := o.store.CreateVM(ctx, vm); err != nil {
		rollback()
		return types.VmRecord{}, newError(KindStorage, "persist new VM record", err)
	}

	if err := o.bootOrRestore(ctx, &vm, req, baseRootfs, diskSizeMb); err != nil {
		vm.State = types.StateError
		vm.LastError = err.Error()
		o.store.UpdateVM(ctx, vm)
		o.publish(vm.ID, "vm.create.failed", map[string]interface{}{"error": err.Error()})
		return types.VmRecord{}, err
	}

	o.publish(vm.ID, "vm.created", map[string]interface{}{"provisionMode": vm.ProvisionMode})
	return vm, nil
}

// bootOrRestore implements step 3 of spec.md §4.5: decide the provisioning
// mode, prepare storage, boot or restore, then run the health+allowlist
// barrier up to RUNNING.
func (o *Orchestrator) bootOrRestore(ctx context.Context, vm *types.VmRecord, req types.CreateVmRequest, baseRootfs string, diskSizeMb int) error {
	diskBytes := int64(diskSizeMb) * bytesPerMb
	jailRoot := o.storage.JailRoot(vm.ID)

	switch {
	case req.SnapshotID != "":
		meta, err := o.storage.ReadSnapshotMeta(req.SnapshotID)
		if err != nil {
			return fatalStateErr("read requested snapshot metadata", err)
		}
		if !meta.HasDisk {
			return conflictErr("snapshot " + req.SnapshotID + " has no disk image")
		}
		if meta.CPU != vm.CPU || meta.MemMb != vm.MemMb {
			return conflictErr("snapshot cpu/memMb do not match request")
		}
		return o.restoreFromSnapshot(ctx, vm, jailRoot, req.SnapshotID, meta, baseRootfs)

	case o.cfg.EnableSnapshots && vm.CPU == o.cfg.SnapshotTemplateCPU && vm.MemMb == o.cfg.SnapshotTemplateMemMb:
		templateID, err := o.templateSnapshotID(baseRootfs)
		if err == nil {
			if meta, serr := o.storage.ReadSnapshotMeta(templateID); serr == nil {
				if rerr := o.restoreFromSnapshot(ctx, vm, jailRoot, templateID, meta, baseRootfs); rerr == nil {
					return nil
				}
				// restore failed: tear down whatever came up and fall back to cold boot.
				o.hv.Destroy(vm.ID)
				o.storage.CleanupVmStorage(vm.ID)
			}
		}
		return o.coldBoot(ctx, vm, baseRootfs, diskBytes)

	default:
		return o.coldBoot(ctx, vm, baseRootfs, diskBytes)
	}
}

func (o *Orchestrator) templateSnapshotID(baseRootfs string) (string, error) {
	kernelBytes, err := os.ReadFile(o.cfg.KernelPath)
	if err != nil {
		return "", err
	}
	rootfsBytes, err := os.ReadFile(baseRootfs)
	if err != nil {
		return "", err
	}
	return snapshotver.TemplateID(kernelBytes, rootfsBytes), nil
}

func (o *Orchestrator) coldBoot(ctx context.Context, vm *types.VmRecord, baseRootfs string, diskBytes int64) error {
	rootfsPath, kernelPath, err := o.storage.PrepareVmStorage(vm.ID, o.cfg.KernelPath, baseRootfs, diskBytes)
	if err != nil {
		return newError(KindStorage, "prepare VM storage", err)
	}
	vm.RootfsPath, vm.KernelPath = rootfsPath, kernelPath
	vm.LogsDir = filepath.Join(o.storage.JailRoot(vm.ID), "logs")

	return o.spawnAndRun(ctx, vm, rootfsPath, kernelPath)
}

// restartExisting re-spawns the hypervisor for a STOPPED VM against its
// existing jail root, reusing vm.RootfsPath/vm.KernelPath as they stood
// when the VM was last stopped. Stop never cleans up storage, so the disk
// and any writes made to it survive; re-cloning from the base image here
// would silently discard them.
func (o *Orchestrator) restartExisting(ctx context.Context, vm *types.VmRecord) error {
	vm.LogsDir = filepath.Join(o.storage.JailRoot(vm.ID), "logs")
	return o.spawnAndRun(ctx, vm, vm.RootfsPath, vm.KernelPath)
}

// spawnAndRun configures networking, spawns the hypervisor cold against
// rootfsPath/kernelPath, and runs the shared health+allowlist barrier.
func (o *Orchestrator) spawnAndRun(ctx context.Context, vm *types.VmRecord, rootfsPath, kernelPath string) error {
	if err := o.network.Configure(vm.GuestIP, vm.TapName, vm.OutboundInternet, vm.AllowIPs, true); err != nil {
		return newError(KindSubprocess, "configure network", err)
	}

	mac := hypervisor.DeterministicMAC(vm.ID)
	_, err := o.hv.CreateAndStart(hypervisor.BootParams{
		VMID:       vm.ID,
		JailRoot:   o.storage.JailRoot(vm.ID),
		KernelPath: kernelPath,
		RootfsPath: rootfsPath,
		TapName:    vm.TapName,
		GuestMAC:   mac,
		VsockCID:   vm.VsockCID,
		CPU:        vm.CPU,
		MemMb:      vm.MemMb,
		GuestIP:    vm.GuestIP,
		GatewayIP:  o.cfg.GatewayIP,
		Netmask:    "255.255.255.0",
	})
	if err != nil {
		return newError(KindSubprocess, "spawn hypervisor", err)
	}

	vm.ProvisionMode = types.ProvisionBoot
	return o.reachRunning(ctx, vm)
}

// restoreFromSnapshot restores a VM from snapshotID. A VM snapshot
// (meta.HasDisk) clones its own saved disk image; a template snapshot has
// no disk of its own, so it clones fresh from the base image instead and
// only replays the saved memory/state.
func (o *Orchestrator) restoreFromSnapshot(ctx context.Context, vm *types.VmRecord, jailRoot, snapshotID string, meta types.SnapshotMeta, baseRootfs string) error {
	paths, err := o.storage.GetSnapshotArtifactPaths(snapshotID)
	if err != nil {
		return newError(KindStorage, "locate snapshot artifacts", err)
	}

	var rootfsPath, kernelPath string
	if meta.HasDisk {
		rootfsPath, kernelPath, err = o.storage.PrepareVmStorageFromDisk(vm.ID, o.cfg.KernelPath, paths.DiskPath, int64(vm.DiskSizeMb)*bytesPerMb)
		if err != nil {
			return newError(KindStorage, "prepare VM storage from snapshot disk", err)
		}
	} else {
		rootfsPath, kernelPath, err = o.storage.PrepareVmStorage(vm.ID, o.cfg.KernelPath, baseRootfs, int64(vm.DiskSizeMb)*bytesPerMb)
		if err != nil {
			return newError(KindStorage, "prepare VM storage from base image for template restore", err)
		}
	}
	vm.RootfsPath, vm.KernelPath = rootfsPath, kernelPath
	vm.LogsDir = filepath.Join(jailRoot, "logs")

	// tap comes up only after the in-guest interface is re-IP'd over vsock.
	if err := o.network.Configure(vm.GuestIP, vm.TapName, vm.OutboundInternet, vm.AllowIPs, false); err != nil {
		return newError(KindSubprocess, "configure network", err)
	}

	mac := hypervisor.DeterministicMAC(vm.ID)
	_, err = o.hv.RestoreFromSnapshot(hypervisor.RestoreParams{
		BootParams: hypervisor.BootParams{
			VMID:       vm.ID,
			JailRoot:   jailRoot,
			KernelPath: kernelPath,
			RootfsPath: rootfsPath,
			TapName:    vm.TapName,
			GuestMAC:   mac,
			VsockCID:   vm.VsockCID,
			CPU:        vm.CPU,
			MemMb:      vm.MemMb,
			GuestIP:    vm.GuestIP,
			GatewayIP:  o.cfg.GatewayIP,
			Netmask:    "255.255.255.0",
		},
		StatePath: paths.StatePath,
		MemPath:   paths.MemPath,
	})
	if err != nil {
		return newError(KindSubprocess, "restore hypervisor from snapshot", err)
	}

	client := o.agentClient(vm)
	if err := client.ConfigureNetwork(types.NetConfigRequest{
		Iface:   "eth0",
		IP:      vm.GuestIP,
		CIDR:    24,
		Gateway: o.cfg.GatewayIP,
		MAC:     mac,
	}); err != nil {
		return newError(KindTransport, "reconfigure guest network after restore", err)
	}
	if err := o.network.BringUpTap(vm.TapName); err != nil {
		return newError(KindSubprocess, "bring up tap after restore", err)
	}

	vm.ProvisionMode = types.ProvisionSnapshot
	return o.reachRunning(ctx, vm)
}

// reachRunning is the final leg common to boot and restore: STARTING ->
// health barrier -> allowlist -> RUNNING.
func (o *Orchestrator) reachRunning(ctx context.Context, vm *types.VmRecord) error {
	vm.State = types.StateStarting
	if err := o.store.UpdateVM(ctx, *vm); err != nil {
		return newError(KindStorage, "persist STARTING", err)
	}

	client := o.agentClient(vm)
	if err := client.Health(); err != nil {
		return newError(KindTransport, "agent health barrier", err)
	}
	// Guest-side allowlist enforcement is best-effort: the host chain is
	// authoritative, so a failure here is logged, not fatal to create.
	if err := client.ApplyAllowlist(types.AllowlistRequest{
		AllowIPs:         vm.AllowIPs,
		OutboundInternet: vm.OutboundInternet,
	}); err != nil {
		o.publish(vm.ID, "vm.allowlist.warning", map[string]interface{}{"error": err.Error()})
	}

	vm.State = types.StateRunning
	if err := o.store.UpdateVM(ctx, *vm); err != nil {
		return newError(KindStorage, "persist RUNNING", err)
	}
	return nil
}

func (o *Orchestrator) agentClient(vm *types.VmRecord) *vsockagent.Client {
	vsockPath := filepath.Join(o.storage.JailRoot(vm.ID), "run", "v.sock")
	return vsockagent.New(vsockPath, o.cfg.AgentPort, o.cfg.Vsock)
}

// Get fetches a VM by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (types.VmRecord, error) {
	return o.getVM(ctx, id)
}

// getVM fetches a VM by id, translating a store miss into KindNotFound and
// any other store failure into KindStorage.
func (o *Orchestrator) getVM(ctx context.Context, id string) (types.VmRecord, error) {
	vm, err := o.store.GetVM(ctx, id)
	if err != nil {
		if _, ok := err.(*opstore.ErrNotFound); ok {
			return types.VmRecord{}, notFoundErr(id)
		}
		return types.VmRecord{}, newError(KindStorage, "get VM", err)
	}
	return vm, nil
}

// List returns all non-DELETED VMs.
func (o *Orchestrator) List(ctx context.Context) ([]types.VmRecord, error) {
	vms, err := o.store.ListVMs(ctx)
	if err != nil {
		return nil, newError(KindStorage, "list VMs", err)
	}
	return vms, nil
}

// Start re-configures networking and cold-boots a non-running VM's
// hypervisor, then runs the same health+allowlist barrier as Create.
func (o *Orchestrator) Start(ctx context.Context, id string) (types.VmRecord, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	vm, err := o.getVM(ctx, id)
	if err != nil {
		return types.VmRecord{}, err
	}
	if vm.State == types.StateRunning || vm.State == types.StateStarting {
		return vm, nil
	}

	if err := o.restartExisting(ctx, &vm); err != nil {
		vm.State = types.StateError
		vm.LastError = err.Error()
		o.store.UpdateVM(ctx, vm)
		o.publish(vm.ID, "vm.start.failed", map[string]interface{}{"error": err.Error()})
		return types.VmRecord{}, err
	}

	o.publish(vm.ID, "vm.started", nil)
	return vm, nil
}

// Stop requests an orderly shutdown and tears down the VM's network
// resources, best-effort.
func (o *Orchestrator) Stop(ctx context.Context, id string) (types.VmRecord, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	vm, err := o.getVM(ctx, id)
	if err != nil {
		return types.VmRecord{}, err
	}

	vm.State = types.StateStopping
	if err := o.store.UpdateVM(ctx, vm); err != nil {
		return types.VmRecord{}, newError(KindStorage, "persist STOPPING", err)
	}

	if err := o.hv.Stop(vm.ID, 5*time.Second); err != nil {
		vm.State = types.StateError
		vm.LastError = err.Error()
		o.store.UpdateVM(ctx, vm)
		return types.VmRecord{}, newError(KindSubprocess, "stop hypervisor", err)
	}
	_ = o.network.Teardown(vm.GuestIP, vm.TapName)

	vm.State = types.StateStopped
	if err := o.store.UpdateVM(ctx, vm); err != nil {
		return types.VmRecord{}, newError(KindStorage, "persist STOPPED", err)
	}

	o.publish(vm.ID, "vm.stopped", nil)
	return vm, nil
}

// Destroy aggregates (but does not short-circuit on) errors from
// hypervisor, network, and storage cleanup, then marks the record DELETED.
func (o *Orchestrator) Destroy(ctx context.Context, id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	vm, err := o.getVM(ctx, id)
	if err != nil {
		return err
	}

	var aggregated error
	if err := o.hv.Destroy(vm.ID); err != nil {
		aggregated = multierr.Append(aggregated, fmt.Errorf("hypervisor destroy: %w", err))
	}
	if err := o.network.Teardown(vm.GuestIP, vm.TapName); err != nil {
		aggregated = multierr.Append(aggregated, fmt.Errorf("network teardown: %w", err))
	}
	if err := o.storage.CleanupVmStorage(vm.ID); err != nil {
		aggregated = multierr.Append(aggregated, fmt.Errorf("storage cleanup: %w", err))
	}

	o.network.Release(vm.GuestIP)
	o.releaseCID(vm.VsockCID)

	vm.State = types.StateDeleted
	if aggregated != nil {
		vm.LastError = aggregated.Error()
	}
	if err := o.store.UpdateVM(ctx, vm); err != nil {
		return newError(KindStorage, "persist DELETED", err)
	}

	meta := map[string]interface{}{}
	if aggregated != nil {
		meta["warnings"] = aggregated.Error()
	}
	o.publish(vm.ID, "vm.destroyed", meta)
	return nil
}

// CreateSnapshot requires a RUNNING VM: quiesce the filesystem, pause and
// dump hypervisor state, clone the current disk, and persist metadata.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, id string) (types.SnapshotMeta, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	vm, err := o.getVM(ctx, id)
	if err != nil {
		return types.SnapshotMeta{}, err
	}
	if vm.State != types.StateRunning {
		return types.SnapshotMeta{}, conflictErr("VM must be RUNNING to snapshot, is " + string(vm.State))
	}

	client := o.agentClient(&vm)
	if _, err := client.Exec(types.ExecRequest{Cmd: "sync"}, o.cfg.MaxExecTimeoutMs); err != nil {
		// best-effort quiesce; proceed regardless.
		_ = err
	}

	snapshotID := uuid.NewString()
	paths, err := o.storage.GetSnapshotArtifactPaths(snapshotID)
	if err != nil {
		return types.SnapshotMeta{}, newError(KindStorage, "allocate snapshot artifact paths", err)
	}

	if err := o.hv.CreateSnapshot(vm.ID, paths.StatePath, paths.MemPath); err != nil {
		return types.SnapshotMeta{}, newError(KindSubprocess, "create hypervisor snapshot", err)
	}
	if err := o.storage.CloneDisk(vm.RootfsPath, paths.DiskPath); err != nil {
		return types.SnapshotMeta{}, newError(KindStorage, "clone VM disk for snapshot", err)
	}

	meta := types.SnapshotMeta{
		ID:         snapshotID,
		Kind:       types.SnapshotVM,
		CreatedAt:  time.Now().UTC(),
		CPU:        vm.CPU,
		MemMb:      vm.MemMb,
		ImageID:    vm.ImageID,
		SourceVmID: vm.ID,
		HasDisk:    true,
	}
	if err := o.storage.WriteSnapshotMeta(snapshotID, meta); err != nil {
		return types.SnapshotMeta{}, newError(KindStorage, "write snapshot metadata", err)
	}

	o.publish(vm.ID, "vm.snapshot.created", map[string]interface{}{"snapshotId": snapshotID})
	return meta, nil
}

// Exec runs a command in the VM, clamping timeoutMs to MaxExecTimeoutMs.
func (o *Orchestrator) Exec(ctx context.Context, id string, req types.ExecRequest) (types.ExecResult, error) {
	vm, err := o.getVM(ctx, id)
	if err != nil {
		return types.ExecResult{}, err
	}
	if vm.State != types.StateRunning {
		return types.ExecResult{}, conflictErr("VM is not RUNNING")
	}
	timeout := clampTimeout(req.TimeoutMs, o.cfg.MaxExecTimeoutMs)
	result, err := o.agentClient(&vm).Exec(req, timeout)
	if err != nil {
		return types.ExecResult{}, newError(KindTransport, "exec", err)
	}
	return result, nil
}

// RunTs runs a script/code snippet in the VM, clamping timeoutMs to
// MaxRunTsTimeoutMs.
func (o *Orchestrator) RunTs(ctx context.Context, id string, req types.ExecRequest) (types.ExecResult, error) {
	vm, err := o.getVM(ctx, id)
	if err != nil {
		return types.ExecResult{}, err
	}
	if vm.State != types.StateRunning {
		return types.ExecResult{}, conflictErr("VM is not RUNNING")
	}
	timeout := clampTimeout(req.TimeoutMs, o.cfg.MaxRunTsTimeoutMs)
	result, err := o.agentClient(&vm).RunTs(req, timeout)
	if err != nil {
		return types.ExecResult{}, newError(KindTransport, "run-ts", err)
	}
	return result, nil
}

// Upload writes data to dest inside the VM.
func (o *Orchestrator) Upload(ctx context.Context, id, dest string, data []byte) error {
	vm, err := o.getVM(ctx, id)
	if err != nil {
		return err
	}
	if vm.State != types.StateRunning {
		return conflictErr("VM is not RUNNING")
	}
	if err := o.agentClient(&vm).Upload(dest, data); err != nil {
		return newError(KindTransport, "upload", err)
	}
	return nil
}

// Download reads a file (or tar.gz'd directory) from the VM.
func (o *Orchestrator) Download(ctx context.Context, id, path string) ([]byte, error) {
	vm, err := o.getVM(ctx, id)
	if err != nil {
		return nil, err
	}
	if vm.State != types.StateRunning {
		return nil, conflictErr("VM is not RUNNING")
	}
	data, err := o.agentClient(&vm).Download(path)
	if err != nil {
		return nil, newError(KindTransport, "download", err)
	}
	return data, nil
}
