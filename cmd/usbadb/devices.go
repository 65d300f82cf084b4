package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webadb/usbadb/adb/adbusb"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List USB devices exposing an ADB interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := adbusb.FindDevices()
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("no ADB devices found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH")
		for _, p := range paths {
			fmt.Fprintln(w, p)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
