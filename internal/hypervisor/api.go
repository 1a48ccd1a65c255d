// Package hypervisor launches and drives the jailed Firecracker process:
// the boot/restore handshake, machine configuration, and snapshot
// create/load, all through Firecracker's HTTP-over-UDS API.
package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// apiClient is a minimal HTTP client for one VM's Firecracker API socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
}

func newAPIClient(socketPath string) *apiClient {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &apiClient{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// waitForSocket polls until the API socket file exists on disk.
func (c *apiClient) waitForSocket(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("hypervisor: API socket %s not ready after %v", c.socketPath, timeout)
}

// putBootSource configures the kernel boot source.
func (c *apiClient) putBootSource(kernelPath, bootArgs string) error {
	return c.put("/boot-source", map[string]string{
		"kernel_image_path": kernelPath,
		"boot_args":         bootArgs,
	})
}

// putDrive attaches a block device (drive) to the VM.
func (c *apiClient) putDrive(driveID, pathOnHost string, isRootDevice, isReadOnly bool) error {
	return c.putWithID("/drives", driveID, map[string]interface{}{
		"drive_id":       driveID,
		"path_on_host":   pathOnHost,
		"is_root_device": isRootDevice,
		"is_read_only":   isReadOnly,
	})
}

// putNetworkInterface attaches a network interface.
func (c *apiClient) putNetworkInterface(ifaceID, guestMAC, hostDevName string) error {
	return c.putWithID("/network-interfaces", ifaceID, map[string]interface{}{
		"iface_id":      ifaceID,
		"guest_mac":     guestMAC,
		"host_dev_name": hostDevName,
	})
}

// putVsock configures the vsock device.
func (c *apiClient) putVsock(guestCID uint32, udsPath string) error {
	return c.put("/vsock", map[string]interface{}{
		"guest_cid": guestCID,
		"uds_path":  udsPath,
	})
}

// putMachineConfig sets vCPU count and memory size.
func (c *apiClient) putMachineConfig(vcpuCount, memSizeMib int) error {
	return c.put("/machine-config", map[string]interface{}{
		"vcpu_count":   vcpuCount,
		"mem_size_mib": memSizeMib,
	})
}

// startInstance boots the configured VM.
func (c *apiClient) startInstance() error {
	return c.put("/actions", map[string]string{"action_type": "InstanceStart"})
}

// pauseVM pauses a running VM.
func (c *apiClient) pauseVM() error {
	return c.patch("/vm", map[string]string{"state": "Paused"})
}

// resumeVM resumes a paused VM.
func (c *apiClient) resumeVM() error {
	return c.patch("/vm", map[string]string{"state": "Resumed"})
}

// createSnapshot creates a full VM snapshot (memory + device state). The
// VM must be paused first.
func (c *apiClient) createSnapshot(statePath, memPath string) error {
	return c.put("/snapshot/create", map[string]string{
		"snapshot_type": "Full",
		"snapshot_path": statePath,
		"mem_file_path": memPath,
	})
}

// loadSnapshot restores a VM from a snapshot. If resumeVM is true, the VM
// starts running immediately after load.
func (c *apiClient) loadSnapshot(statePath, memPath string, resumeVM bool) error {
	return c.put("/snapshot/load", map[string]interface{}{
		"snapshot_path": statePath,
		"mem_backend": map[string]string{
			"backend_path": memPath,
			"backend_type": "File",
		},
		"enable_diff_snapshots": false,
		"resume_vm":             resumeVM,
	})
}

func (c *apiClient) put(path string, body interface{}) error {
	return c.doRequest(http.MethodPut, path, body)
}

func (c *apiClient) putWithID(basePath, id string, body interface{}) error {
	return c.doRequest(http.MethodPut, basePath+"/"+id, body)
}

func (c *apiClient) patch(path string, body interface{}) error {
	return c.doRequest(http.MethodPatch, path, body)
}

func (c *apiClient) doRequest(method, path string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hypervisor: marshal request body: %w", err)
	}

	req, err := http.NewRequest(method, "http://localhost"+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("hypervisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hypervisor: API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hypervisor: API %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return nil
}
