package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {

	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.WindowCapacity() != 60 {
		t.Errorf("expected 60 frame window, got %d", cfg.WindowCapacity())
	}

	if cfg.PoseTimeout() != 4*(time.Second/30) {
		t.Errorf("unexpected pose timeout %v", cfg.PoseTimeout())
	}

	if cfg.DebounceDuration() != 600*time.Millisecond || cfg.StartDelay() != 3*time.Second {
		t.Errorf("unexpected timer defaults %v %v", cfg.DebounceDuration(), cfg.StartDelay())
	}
}

func TestParseOverridesDefaults(t *testing.T) {

	data := []byte(`
capture:
  rate_hz: 15
  file: clip.mp4
window:
  duration_s: 4
classifier:
  backend: worker
  worker_command: ["python3", "worker.py"]
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Parse(data)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.WindowCapacity() != 60 {
		t.Errorf("expected 15Hz x 4s = 60 frames, got %d", cfg.WindowCapacity())
	}

	if cfg.Capture.Orientation != "up" || cfg.Debounce.DurationMS != 600 {
		t.Errorf("defaults lost: %+v %+v", cfg.Capture, cfg.Debounce)
	}

	if len(cfg.Classifier.WorkerCommand) != 2 || cfg.MQTT.Topic != "posturecoach/status" {
		t.Errorf("unexpected classifier/mqtt config %+v %+v", cfg.Classifier, cfg.MQTT)
	}
}

func TestValidate(t *testing.T) {

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero rate", func(c *Config) { c.Capture.RateHz = 0 }},
		{"empty window", func(c *Config) { c.Window.DurationS = 0.01 }},
		{"orientation", func(c *Config) { c.Capture.Orientation = "sideways" }},
		{"negative debounce", func(c *Config) { c.Debounce.DurationMS = -1 }},
		{"backend", func(c *Config) { c.Classifier.Backend = "gpu" }},
		{"worker without command", func(c *Config) { c.Classifier.Backend = "worker" }},
		{"speech rate", func(c *Config) { c.Speech.Rate = 2 }},
		{"mqtt qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"box threshold", func(c *Config) { c.Pose.BoxThreshold = 1 }},
	}

	for _, tc := range tests {
		cfg := Default()
		tc.modify(cfg)

		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tc.name, err)
		}
	}
}

func TestLoad(t *testing.T) {

	path := filepath.Join(t.TempDir(), "posturecoach.yaml")

	if err := os.WriteFile(path, []byte("debounce:\n  duration_ms: 250\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load(path)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DebounceDuration() != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %v", cfg.DebounceDuration())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
