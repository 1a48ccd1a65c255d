package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "snapshot-build",
	Short: "Boot a template VM, snapshot it, and write its metadata",
	Long: `snapshot-build boots a template VM cold from the configured kernel and
base rootfs, waits for the guest agent to report healthy, takes a Firecracker
snapshot, and writes the snapshot's metadata under the storage root. It exits
non-zero on any failure, so it is safe to run from a build pipeline.`,
	RunE: runBuild,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().IntVar(&flagCPU, "cpu", 0, "template VM vCPU count (defaults to SANDBOXD_SNAPSHOT_TEMPLATE_CPU)")
	rootCmd.Flags().IntVar(&flagMemMb, "mem-mb", 0, "template VM memory in MB (defaults to SANDBOXD_SNAPSHOT_TEMPLATE_MEM_MB)")
	rootCmd.Flags().StringVar(&flagImageID, "image-id", "", "base rootfs image id under imagesDir (defaults to \"default\")")
}

var (
	flagCPU     int
	flagMemMb   int
	flagImageID string
)
