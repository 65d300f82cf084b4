package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webadb/usbadb/adb/adbdev"
	"github.com/webadb/usbadb/internal/diag"
)

var bundlePath string

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Connect and print a diagnostics snapshot",
	Long: `Diagnose connects to the device and prints a diagnostics snapshot: the
device identity, the negotiated payload size, and the recent packet log.
If the connection fails, the snapshot attached to the failure is printed
instead. With --bundle, a compressed bundle is written for bug reports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap adbdev.Snapshot

		s, err := connect()
		if err != nil {
			var de *adbdev.DiagError
			if !errors.As(err, &de) {
				return err
			}
			snap = de.Snapshot
			fmt.Fprintln(cmd.ErrOrStderr(), "connect failed:", de.Err)
		} else {
			defer s.Disconnect()
			// exercise the link so the log has traffic in it
			if _, err := s.RunShell("echo diagnostics"); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "shell probe failed:", err)
			}
			snap = s.Diagnostics()
		}

		if bundlePath != "" {
			f, err := os.Create(bundlePath)
			if err != nil {
				return err
			}
			if err := diag.WriteBundle(f, version, snap); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", bundlePath)
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&bundlePath, "bundle", "", "write a compressed diagnostics bundle to this path")
	rootCmd.AddCommand(diagnoseCmd)
}
