package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Manage installed packages",
}

var packagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed package ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		defer s.Disconnect()

		pkgs, err := s.ListPackages()
		if err != nil {
			return err
		}
		for _, p := range pkgs {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var packagesDisableCmd = &cobra.Command{
	Use:   "disable package...",
	Short: "Disable packages for the primary user",
	Args:  cobra.MinimumNArgs(1),
	RunE:  pmCmd(func(s pmSession, pkg string) (string, error) { return s.DisablePackage(pkg) }),
}

var packagesEnableCmd = &cobra.Command{
	Use:   "enable package...",
	Short: "Re-enable packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  pmCmd(func(s pmSession, pkg string) (string, error) { return s.EnablePackage(pkg) }),
}

var packagesUninstallCmd = &cobra.Command{
	Use:   "uninstall package...",
	Short: "Uninstall packages for the primary user",
	Args:  cobra.MinimumNArgs(1),
	RunE:  pmCmd(func(s pmSession, pkg string) (string, error) { return s.UninstallPackage(pkg) }),
}

type pmSession interface {
	DisablePackage(pkg string) (string, error)
	EnablePackage(pkg string) (string, error)
	UninstallPackage(pkg string) (string, error)
}

// pmCmd runs one package-manager operation per argument over a single
// session.
func pmCmd(op func(pmSession, string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		defer s.Disconnect()

		for _, pkg := range args {
			out, err := op(s, pkg)
			if err != nil {
				return fmt.Errorf("%s: %w", pkg, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", pkg, strings.TrimSpace(out))
		}
		return nil
	}
}

func init() {
	packagesCmd.AddCommand(packagesListCmd, packagesDisableCmd, packagesEnableCmd, packagesUninstallCmd)
	rootCmd.AddCommand(packagesCmd)
}
