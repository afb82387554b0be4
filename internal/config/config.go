package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Camera driver names
const (
	DriverV4L2      = "v4l2"
	DriverSimulated = "simulated"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`

	Camera   CameraConfig   `json:"camera" yaml:"camera"`
	Preview  PreviewConfig  `json:"preview" yaml:"preview"`
	Overlay  OverlayConfig  `json:"overlay" yaml:"overlay"`
	Detector DetectorConfig `json:"detector" yaml:"detector"`
}

// CameraConfig holds the requested camera source parameters.
// The negotiated values may differ, see camera.PreviewGeometry.
type CameraConfig struct {
	Driver          string         `json:"driver" yaml:"driver"`
	Facing          string         `json:"facing" yaml:"facing"`
	Devices         []DeviceConfig `json:"devices" yaml:"devices"`
	PreviewWidth    int            `json:"preview_width" yaml:"preview_width"`
	PreviewHeight   int            `json:"preview_height" yaml:"preview_height"`
	FPS             float64        `json:"fps" yaml:"fps"`
	FocusMode       string         `json:"focus_mode" yaml:"focus_mode"`
	FlashMode       string         `json:"flash_mode" yaml:"flash_mode"`
	DisplayRotation int            `json:"display_rotation" yaml:"display_rotation"` // degrees, multiple of 90
	SimulateText    string         `json:"simulate_text" yaml:"simulate_text"`
}

// DeviceConfig maps a facing to a device node and its sensor mounting
type DeviceConfig struct {
	Facing      string `json:"facing" yaml:"facing"`
	Path        string `json:"path" yaml:"path"`
	Orientation int    `json:"orientation" yaml:"orientation"` // degrees
}

// PreviewConfig represents preview output configuration
type PreviewConfig struct {
	JPEGQuality  int  `json:"jpeg_quality" yaml:"jpeg_quality"`
	X11Window    bool `json:"x11_window" yaml:"x11_window"`
	WindowWidth  int  `json:"window_width" yaml:"window_width"`
	WindowHeight int  `json:"window_height" yaml:"window_height"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled     bool                     `json:"enabled" yaml:"enabled"`
	StrokeWidth int                      `json:"stroke_width" yaml:"stroke_width"`
	Widgets     []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// DetectorConfig tunes the barcode detector and tracker
type DetectorConfig struct {
	TryHarder        bool `json:"try_harder" yaml:"try_harder"`
	MaxMissingFrames int  `json:"max_missing_frames" yaml:"max_missing_frames"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "scanstreamer", "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", m.config.Camera.Driver).
		Str("facing", m.config.Camera.Facing).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Camera: CameraConfig{
			Driver: DriverV4L2,
			Facing: "back",
			Devices: []DeviceConfig{
				{Facing: "back", Path: "/dev/video0", Orientation: 0},
				{Facing: "front", Path: "/dev/video1", Orientation: 0},
			},
			// Higher than usual so small codes can be read from a distance
			PreviewWidth:  1600,
			PreviewHeight: 1024,
			FPS:           15.0,
		},
		Preview: PreviewConfig{
			JPEGQuality:  80,
			WindowWidth:  1280,
			WindowHeight: 720,
		},
		Overlay: OverlayConfig{
			Enabled:     true,
			StrokeWidth: 4,
			Widgets: []map[string]interface{}{
				{"type": "text", "id": "hint", "text": "Click a code to select it", "x": 10, "y": 10},
			},
		},
		Detector: DetectorConfig{
			MaxMissingFrames: 3,
		},
	}
}

// Validate checks the configuration for values that cannot be used
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}

	cam := c.Camera
	if cam.Driver != DriverV4L2 && cam.Driver != DriverSimulated {
		return fmt.Errorf("invalid camera driver: %q (use: %s, %s)", cam.Driver, DriverV4L2, DriverSimulated)
	}
	if cam.Facing != "back" && cam.Facing != "front" {
		return fmt.Errorf("invalid camera facing: %q (use: back, front)", cam.Facing)
	}
	if cam.FPS <= 0 {
		return fmt.Errorf("invalid fps: %v", cam.FPS)
	}
	const maxDimension = 1000000
	if cam.PreviewWidth <= 0 || cam.PreviewWidth > maxDimension ||
		cam.PreviewHeight <= 0 || cam.PreviewHeight > maxDimension {
		return fmt.Errorf("invalid preview size: %dx%d", cam.PreviewWidth, cam.PreviewHeight)
	}
	if cam.DisplayRotation%90 != 0 {
		return fmt.Errorf("invalid display rotation: %d (must be a multiple of 90)", cam.DisplayRotation)
	}
	for _, d := range cam.Devices {
		if d.Facing != "back" && d.Facing != "front" {
			return fmt.Errorf("invalid device facing for %s: %q", d.Path, d.Facing)
		}
		if d.Orientation%90 != 0 {
			return fmt.Errorf("invalid sensor orientation for %s: %d", d.Path, d.Orientation)
		}
	}

	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d", c.Preview.JPEGQuality)
	}
	if c.Detector.MaxMissingFrames < 0 {
		return fmt.Errorf("invalid max missing frames: %d", c.Detector.MaxMissingFrames)
	}
	return nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Start from defaults so sections missing from the file keep sane values
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Camera.Devices = append([]DeviceConfig(nil), m.config.Camera.Devices...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	cfg := m.Get()
	cfg.ServerPort = port
	return m.Update(cfg)
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	cfg := m.Get()
	cfg.LogLevel = level
	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetViper returns a viper instance loaded with the current configuration,
// addressable with dotted keys such as "camera.fps".
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// GetValue returns the value at a dotted key
func (m *Manager) GetValue(key string) (interface{}, error) {
	v, err := m.GetViper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// SetValue sets a dotted key from its string form, validates and saves.
// The value is decoded as YAML so numbers and booleans keep their types.
func (m *Manager) SetValue(key, raw string) error {
	v, err := m.GetViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	v.Set(key, value)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode settings: %w", err)
	}
	return m.Update(cfg)
}
