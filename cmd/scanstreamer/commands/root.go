package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "scanstreamer",
		Short: "ScanStreamer - Camera barcode scanner with a live preview",
		Long: `ScanStreamer captures a live camera preview, decodes QR codes in it and
draws the results over the preview. Tap (click) a code in the browser
preview to select it and hand it to whatever is waiting for a result.

Features:
  • V4L2 cameras, or a simulated camera for testing
  • Latest-frame-wins processing, the preview never queues
  • MJPEG browser preview with click to select and zoom
  • Optional local X11 preview window
  • REST API and WebSocket detection events
  • Persistent YAML configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/scanstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and applies flag overrides to the
// returned copy without saving them. It also initializes logging.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("cli").Debug().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")
	return configMgr, cfg, nil
}
