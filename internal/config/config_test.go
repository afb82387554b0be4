package config

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Fatalf("config file was not written: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.Camera.Facing != "back" {
		t.Errorf("Facing = %q, want back", cfg.Camera.Facing)
	}
	if cfg.Camera.PreviewWidth != 1600 || cfg.Camera.PreviewHeight != 1024 {
		t.Errorf("preview = %dx%d, want 1600x1024", cfg.Camera.PreviewWidth, cfg.Camera.PreviewHeight)
	}
	if cfg.Camera.FPS != 15 {
		t.Errorf("FPS = %v, want 15", cfg.Camera.FPS)
	}
}

func TestManagerReloadsSavedConfig(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetPort(9090); err != nil {
		t.Fatalf("SetPort failed: %v", err)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.Get().ServerPort; got != 9090 {
		t.Errorf("ServerPort after reload = %d, want 9090", got)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server_port: 7000\ncamera:\n  driver: simulated\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 7000 || cfg.Camera.Driver != DriverSimulated {
		t.Errorf("file values not applied: port=%d driver=%s", cfg.ServerPort, cfg.Camera.Driver)
	}
	if cfg.Camera.FPS != 15 || cfg.Preview.JPEGQuality != 80 {
		t.Errorf("defaults lost: fps=%v quality=%d", cfg.Camera.FPS, cfg.Preview.JPEGQuality)
	}
}

func TestInvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("camera:\n  fps: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected error for fps 0")
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(c *Config)
		expectErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.ServerPort = 0 }, true},
		{"port too large", func(c *Config) { c.ServerPort = 70000 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad driver", func(c *Config) { c.Camera.Driver = "usb" }, true},
		{"bad facing", func(c *Config) { c.Camera.Facing = "side" }, true},
		{"negative fps", func(c *Config) { c.Camera.FPS = -1 }, true},
		{"zero width", func(c *Config) { c.Camera.PreviewWidth = 0 }, true},
		{"huge height", func(c *Config) { c.Camera.PreviewHeight = 1000001 }, true},
		{"max height", func(c *Config) { c.Camera.PreviewHeight = 1000000 }, false},
		{"odd rotation", func(c *Config) { c.Camera.DisplayRotation = 45 }, true},
		{"quarter rotation", func(c *Config) { c.Camera.DisplayRotation = 270 }, false},
		{"jpeg quality", func(c *Config) { c.Preview.JPEGQuality = 0 }, true},
		{"negative missing", func(c *Config) { c.Detector.MaxMissingFrames = -1 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGetSetValue(t *testing.T) {
	m := newTestManager(t)

	if err := m.SetValue("camera.fps", "30"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if got := m.Get().Camera.FPS; got != 30 {
		t.Errorf("FPS = %v, want 30", got)
	}

	if err := m.SetValue("camera.facing", "front"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := m.GetValue("camera.facing")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "front" {
		t.Errorf("camera.facing = %v, want front", v)
	}

	if err := m.SetValue("camera.facing", "sideways"); err == nil {
		t.Error("expected validation error")
	}
	if m.Get().Camera.Facing != "front" {
		t.Error("invalid value must not be applied")
	}

	if _, err := m.GetValue("camera.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := m.SetValue("camera.nope", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	cfg := m.Get()
	cfg.ServerPort = 1
	cfg.Camera.Devices[0].Path = "/dev/null"

	again := m.Get()
	if again.ServerPort == 1 || again.Camera.Devices[0].Path == "/dev/null" {
		t.Error("Get must return an independent copy")
	}
}
