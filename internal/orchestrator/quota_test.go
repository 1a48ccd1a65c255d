package orchestrator

import (
	"testing"

	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxVms:      4,
		MaxCPU:      8,
		MaxMemMb:    8192,
		MaxAllowIPs: 4,
	}
}

func TestValidateCreateDiskSizeBoundary(t *testing.T) {
	cfg := testConfig()
	req := types.CreateVmRequest{CPU: 1, MemMb: 256}
	baseBytes := int64(10*bytesPerMb + 1) // forces minDiskMb = 11

	req.DiskSizeMb = 11
	if _, err := validateCreate(req, cfg, 0, baseBytes); err != nil {
		t.Fatalf("expected minimum diskSizeMb to succeed, got %v", err)
	}

	req.DiskSizeMb = 10
	if _, err := validateCreate(req, cfg, 0, baseBytes); err == nil {
		t.Fatalf("expected diskSizeMb below minimum to be rejected")
	}
}

func TestValidateCreateDiskSizeDefault(t *testing.T) {
	cfg := testConfig()
	req := types.CreateVmRequest{CPU: 1, MemMb: 256}
	baseBytes := int64(100 * bytesPerMb)

	diskMb, err := validateCreate(req, cfg, 0, baseBytes)
	if err != nil {
		t.Fatalf("validateCreate: %v", err)
	}
	if diskMb != 100+defaultDiskHeadroomMb {
		t.Fatalf("expected default disk size 356, got %d", diskMb)
	}
}

func TestValidateCreateDiskSizeMax(t *testing.T) {
	cfg := testConfig()
	req := types.CreateVmRequest{CPU: 1, MemMb: 256, DiskSizeMb: maxDiskSizeMb + 1}
	if _, err := validateCreate(req, cfg, 0, 1); err == nil {
		t.Fatalf("expected diskSizeMb above maximum to be rejected")
	}
}

func TestValidateCreateQuotaExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxVms = 1
	req := types.CreateVmRequest{CPU: 1, MemMb: 256}

	if _, err := validateCreate(req, cfg, 1, bytesPerMb); err == nil {
		t.Fatalf("expected quota error with active count at maxVms")
	} else if oerr, ok := err.(*Error); !ok || oerr.Kind != KindQuota {
		t.Fatalf("expected KindQuota, got %v", err)
	}
}

func TestValidateCreateCPUAndMem(t *testing.T) {
	cfg := testConfig()

	if _, err := validateCreate(types.CreateVmRequest{CPU: 0, MemMb: 256}, cfg, 0, bytesPerMb); err == nil {
		t.Fatalf("expected cpu=0 to be rejected")
	}
	if _, err := validateCreate(types.CreateVmRequest{CPU: 100, MemMb: 256}, cfg, 0, bytesPerMb); err == nil {
		t.Fatalf("expected cpu over max to be rejected")
	}
	if _, err := validateCreate(types.CreateVmRequest{CPU: 1, MemMb: 0}, cfg, 0, bytesPerMb); err == nil {
		t.Fatalf("expected memMb=0 to be rejected")
	}
}

func TestValidateCreateAllowIPs(t *testing.T) {
	cfg := testConfig()
	req := types.CreateVmRequest{CPU: 1, MemMb: 256, AllowIPs: []string{"1.2.3.4/32", "10.0.0.1"}}
	if _, err := validateCreate(req, cfg, 0, bytesPerMb); err != nil {
		t.Fatalf("expected valid allowIps to pass: %v", err)
	}

	req.AllowIPs = []string{"not-an-ip"}
	if _, err := validateCreate(req, cfg, 0, bytesPerMb); err == nil {
		t.Fatalf("expected malformed allowIps entry to be rejected")
	}

	req.AllowIPs = []string{"1.1.1.1/32", "2.2.2.2/32", "3.3.3.3/32", "4.4.4.4/32", "5.5.5.5/32"}
	if _, err := validateCreate(req, cfg, 0, bytesPerMb); err == nil {
		t.Fatalf("expected allowIps over maxAllowIPs to be rejected")
	}
}

func TestClampTimeout(t *testing.T) {
	if got := clampTimeout(0, 60_000); got != 60_000 {
		t.Fatalf("expected default to substitute zero, got %d", got)
	}
	if got := clampTimeout(500_000, 60_000); got != 60_000 {
		t.Fatalf("expected over-max timeout to clamp, got %d", got)
	}
	if got := clampTimeout(5_000, 60_000); got != 5_000 {
		t.Fatalf("expected in-range timeout to pass through, got %d", got)
	}
}
