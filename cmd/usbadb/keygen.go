package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the host key if needed and print its fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := hostKey()
		if err != nil {
			return err
		}
		pub, err := key.Public()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pub.Fingerprint())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
