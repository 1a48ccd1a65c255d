package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("SANDBOXD_PORT")
	os.Unsetenv("SANDBOXD_MAX_VMS")
	os.Unsetenv("SANDBOXD_ROOTFS_CLONE_MODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.MaxVms != 64 {
		t.Errorf("expected max vms 64, got %d", cfg.MaxVms)
	}
	if cfg.RootfsCloneMode != "auto" {
		t.Errorf("expected clone mode auto, got %s", cfg.RootfsCloneMode)
	}
	if cfg.BridgeName != "sbx0" {
		t.Errorf("expected bridge name sbx0, got %s", cfg.BridgeName)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SANDBOXD_PORT", "9999")
	os.Setenv("SANDBOXD_MAX_VMS", "4")
	os.Setenv("SANDBOXD_ROOTFS_CLONE_MODE", "copy")
	defer func() {
		os.Unsetenv("SANDBOXD_PORT")
		os.Unsetenv("SANDBOXD_MAX_VMS")
		os.Unsetenv("SANDBOXD_ROOTFS_CLONE_MODE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.MaxVms != 4 {
		t.Errorf("expected max vms 4, got %d", cfg.MaxVms)
	}
	if cfg.RootfsCloneMode != "copy" {
		t.Errorf("expected clone mode copy, got %s", cfg.RootfsCloneMode)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	os.Setenv("SANDBOXD_PORT", "not-a-number")
	defer os.Unsetenv("SANDBOXD_PORT")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestLoadInvalidCloneMode(t *testing.T) {
	os.Setenv("SANDBOXD_ROOTFS_CLONE_MODE", "bogus")
	defer os.Unsetenv("SANDBOXD_ROOTFS_CLONE_MODE")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid clone mode, got nil")
	}
}
