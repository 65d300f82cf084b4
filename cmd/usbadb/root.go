package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/webadb/usbadb/adb/adbauth"
	"github.com/webadb/usbadb/adb/adbdev"
	"github.com/webadb/usbadb/adb/adbusb"
)

var (
	cfgFile    string
	devicePath string
	traceFlag  bool

	cfg *Config
)

var rootCmd = &cobra.Command{
	Use:   "usbadb",
	Short: "Talk to an Android device over USB without an adb server",
	Long: `usbadb is a host-side ADB client which speaks the ADB wire protocol
directly over the device's USB bulk endpoints. It authenticates with a
persistent RSA key (authorize the host on the device the first time) and
exposes shell and package-management commands.

The local adb server must not be running, since it holds the ADB interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultConfigPath()
		}
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if devicePath != "" {
			cfg.DevicePath = devicePath
		}
		if traceFlag {
			adbdev.Trace(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.usbadb/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "", "usbfs device node (default: first ADB device)")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "log protocol traffic to stderr")
}

// hostKey loads or creates the persistent host key.
func hostKey() (*adbauth.HostKey, error) {
	return adbauth.EnsureKey(&adbauth.FileKeystore{Dir: cfg.KeystoreDir})
}

// openDevice resolves the target device node.
func openDevice() (adbusb.Device, error) {
	path := cfg.DevicePath
	if path == "" {
		paths, err := adbusb.FindDevices()
		if err != nil {
			return nil, fmt.Errorf("scan devices: %w", err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no ADB device found (is it plugged in with USB debugging enabled?)")
		}
		path = paths[0]
	}
	dev, err := adbusb.OpenUsbfs(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// connect opens the device and establishes a session.
func connect() (*adbdev.Session, error) {
	key, err := hostKey()
	if err != nil {
		return nil, err
	}
	dev, err := openDevice()
	if err != nil {
		return nil, err
	}
	s, err := adbdev.Connect(dev, key, adbdev.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ShellTimeout:   cfg.ShellTimeout,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
