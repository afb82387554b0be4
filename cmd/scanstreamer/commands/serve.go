package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/api"
	"github.com/bryanchriswhite/ScanStreamer/internal/display"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/scanner"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ScanStreamer server",
	Long: `Start the ScanStreamer HTTP server.

The server streams the annotated camera preview as MJPEG, serves the
scanner page at / and exposes the REST API under /api.`,
	Example: `  # Start server on default port (8080)
  scanstreamer serve

  # Start server on custom port
  scanstreamer serve --port 9090

  # Also show the preview in a local X11 window
  scanstreamer serve --x11

  # Wait for POST /api/camera/start instead of opening the camera now
  scanstreamer serve --autostart=false`,
	RunE: runServe,
}

var (
	serveAutostart bool
	serveX11       bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveAutostart, "autostart", true, "open the camera when the server starts")
	serveCmd.Flags().BoolVar(&serveX11, "x11", false, "show the preview in a local X11 window")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	mjpegOut := output.NewMJPEGOutput(cfg.Preview.JPEGQuality)
	if err := mjpegOut.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer mjpegOut.Stop()
	outputs := []output.Output{mjpegOut}

	var displayMgr *display.Manager
	if serveX11 || cfg.Preview.X11Window {
		displayMgr = display.NewManager(cfg.Preview)
		if err := displayMgr.Start(); err != nil {
			log.Warn().Err(err).Msg("X11 preview window unavailable, continuing without it")
			displayMgr = nil
		} else {
			defer displayMgr.Stop()
			outputs = append(outputs, displayMgr)
		}
	}

	session, err := scanner.New(scanner.Options{Config: *cfg, Outputs: outputs})
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}
	defer session.Release()

	if serveAutostart {
		// a missing camera is reported in /api/status; the server still runs
		if err := session.Start(); err != nil {
			log.Error().Err(err).Msg("Camera did not start")
		}
	}

	server := api.NewServer(session, configMgr, mjpegOut, displayMgr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("session", session.ID()).
		Str("scanner", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("ScanStreamer is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigChan:
	}

	log.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// stop streaming first so MJPEG clients are released
	mjpegOut.Stop()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	return nil
}
