package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan one barcode without a preview",
	Long: `Open the camera, wait for the first QR code and print its value.

No preview is shown. The command exits with an error if nothing is decoded
before the timeout.`,
	Example: `  # Print the first code seen by the back camera
  scanstreamer scan

  # Use the front camera and give up after 10 seconds
  scanstreamer scan --facing front --timeout 10s

  # Scan the simulated camera and print the full detection
  scanstreamer scan --simulate "hello" --format json`,
	RunE: runScan,
}

var (
	scanTimeout  time.Duration
	scanFacing   string
	scanFormat   string
	scanSimulate string
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 30*time.Second, "give up after this long")
	scanCmd.Flags().StringVar(&scanFacing, "facing", "", "camera facing (back or front)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "text", "output format (text or json)")
	scanCmd.Flags().StringVar(&scanSimulate, "simulate", "", "use the simulated camera showing this text")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "text" && scanFormat != "json" {
		return fmt.Errorf("unsupported format: %s (use 'text' or 'json')", scanFormat)
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if scanFacing != "" {
		cfg.Camera.Facing = scanFacing
	}
	if scanSimulate != "" {
		cfg.Camera.Driver = config.DriverSimulated
		cfg.Camera.SimulateText = scanSimulate
	}

	session, err := scanner.New(scanner.Options{Config: *cfg, AutoSelect: true})
	if err != nil {
		return err
	}
	defer session.Release()

	if err := session.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	d, err := session.Result(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no barcode found within %s", scanTimeout)
	}
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(d)
	}
	fmt.Println(d.RawValue)
	return nil
}
