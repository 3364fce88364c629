package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hrwatch",
		Short: "Stream heart rate readings from BLE heart rate monitors",
		Long: `Watches for Bluetooth Low Energy peripherals advertising the Heart Rate
service (0x180D), connects to them, subscribes to Heart Rate Measurement
notifications (0x2A37) and writes one line per reading to stdout:

  {"timestamp":"2024-01-01T00:00:00.0000000Z","bpm":75}

Diagnostics go to stderr. Stop with Ctrl+C.`,
		Args:    cobra.NoArgs,
		Version: formatVersion(version),
		RunE:    runMonitor,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	cmd.SetVersionTemplate(fmt.Sprintf("hrwatch {{.Version}} (commit %s, built %s)\n", commit, date))

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML config file (default ~/.config/hrwatch/config.yaml if present)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "V", false, "Shortcut for --log-level debug")
	flags.String("backend", "", "BLE backend (goble, tinygo, simulated)")
	flags.Int("hci", -1, "HCI adapter index for the goble backend on Linux")
	flags.String("format", "", "Output format (json, text, csv)")
	flags.String("csv", "", "Also append readings to this CSV file")
	flags.Bool("dedupe", false, "Connect to each device address only once at a time")
	flags.Duration("timeout", 0, "Connect timeout per device (e.g. 30s)")
	flags.StringSlice("allow", nil, "Only connect to these device addresses")
	flags.StringSlice("block", nil, "Never connect to these device addresses")

	// Add -v as a short flag for --version
	flags.BoolP("version", "v", false, "Show version information")

	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

