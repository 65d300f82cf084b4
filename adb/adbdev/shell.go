package adbdev

import (
	"slices"
	"strings"

	"github.com/webadb/usbadb/internal/android"
)

// RunShell runs a command via the shell service and returns everything it
// wrote before closing the stream (or before the shell deadline fires).
func (s *Session) RunShell(cmd string) (string, error) {
	st, err := s.Open("shell:" + cmd)
	if err != nil {
		return "", err
	}
	defer st.Close()
	return st.Collect(s.opts.ShellTimeout), nil
}

// ListPackages returns the ids of the installed packages, sorted.
func (s *Session) ListPackages() ([]string, error) {
	out, err := s.RunShell("pm list packages")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for line := range strings.Lines(out) {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && name != "" {
			pkgs = append(pkgs, name)
		}
	}
	slices.Sort(pkgs)
	return pkgs, nil
}

// DisablePackage disables a package for the primary user and returns the
// device's output.
func (s *Session) DisablePackage(pkg string) (string, error) {
	return s.RunShell("pm disable-user --user 0 " + android.QuoteShell(pkg))
}

// EnablePackage re-enables a package and returns the device's output.
func (s *Session) EnablePackage(pkg string) (string, error) {
	return s.RunShell("pm enable " + android.QuoteShell(pkg))
}

// UninstallPackage uninstalls a package for the primary user and returns the
// device's output.
func (s *Session) UninstallPackage(pkg string) (string, error) {
	return s.RunShell("pm uninstall --user 0 " + android.QuoteShell(pkg))
}
