package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/pkg/types"
)

const (
	maxDiskSizeMb    = 1_048_576
	defaultDiskHeadroomMb = 256
	bytesPerMb       = 1 << 20
)

var allowIPPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}(/\d{1,2})?$`)

// validateCreate enforces spec.md §4.5's quota checks and normalizes
// diskSizeMb to its effective value. baseRootfsBytes is the size of the
// image the request will clone from.
func validateCreate(req types.CreateVmRequest, cfg *config.Config, activeVMs int, baseRootfsBytes int64) (int, error) {
	if activeVMs >= cfg.MaxVms {
		return 0, quotaErr(fmt.Sprintf("active VM count %d reached maxVms %d", activeVMs, cfg.MaxVms))
	}
	if req.CPU <= 0 || req.CPU > cfg.MaxCPU {
		return 0, validationErr(fmt.Sprintf("cpu must be in (0, %d], got %d", cfg.MaxCPU, req.CPU))
	}
	if req.MemMb <= 0 || req.MemMb > cfg.MaxMemMb {
		return 0, validationErr(fmt.Sprintf("memMb must be in (0, %d], got %d", cfg.MaxMemMb, req.MemMb))
	}
	if len(req.AllowIPs) > cfg.MaxAllowIPs {
		return 0, validationErr(fmt.Sprintf("allowIps length %d exceeds maxAllowIps %d", len(req.AllowIPs), cfg.MaxAllowIPs))
	}
	for _, ip := range req.AllowIPs {
		if !allowIPPattern.MatchString(ip) {
			return 0, validationErr(fmt.Sprintf("allowIps entry %q is not a valid IPv4 or CIDR", ip))
		}
	}

	minDiskMb := ceilDivMb(baseRootfsBytes)
	diskSizeMb := req.DiskSizeMb
	if diskSizeMb == 0 {
		diskSizeMb = minDiskMb + defaultDiskHeadroomMb
	}
	if diskSizeMb < minDiskMb {
		return 0, validationErr(fmt.Sprintf("diskSizeMb %d is below the base image's minimum %d", diskSizeMb, minDiskMb))
	}
	if diskSizeMb > maxDiskSizeMb {
		return 0, validationErr(fmt.Sprintf("diskSizeMb %d exceeds maximum %d", diskSizeMb, maxDiskSizeMb))
	}

	return diskSizeMb, nil
}

func ceilDivMb(bytes int64) int {
	if bytes <= 0 {
		return 0
	}
	return int((bytes + bytesPerMb - 1) / bytesPerMb)
}

// clampTimeout bounds a caller-supplied timeoutMs to [1, max], substituting
// max when the caller did not supply one.
func clampTimeout(timeoutMs, max int) int {
	if timeoutMs <= 0 || timeoutMs > max {
		return max
	}
	return timeoutMs
}
