// Package snapshotver computes the content-addressed id used for template
// snapshots, so that rebuilding the base kernel or rootfs invalidates and
// regenerates the template.
package snapshotver

import (
	"crypto/sha256"
	"encoding/hex"
)

// TemplateID returns sha256(sha256(kernel) || sha256(rootfs)) truncated to
// 32 hex characters. It is a pure function of its inputs.
func TemplateID(kernel, rootfs []byte) string {
	kernelSum := sha256.Sum256(kernel)
	rootfsSum := sha256.Sum256(rootfs)

	combined := make([]byte, 0, len(kernelSum)+len(rootfsSum))
	combined = append(combined, kernelSum[:]...)
	combined = append(combined, rootfsSum[:]...)

	finalSum := sha256.Sum256(combined)
	return hex.EncodeToString(finalSum[:])[:32]
}
