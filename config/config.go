// Package config loads the posture coach YAML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/swdee/go-posturecoach/window"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the application configuration
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Window     WindowConfig     `yaml:"window"`
	Debounce   DebounceConfig   `yaml:"debounce"`
	Session    SessionConfig    `yaml:"session"`
	Pose       PoseConfig       `yaml:"pose"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Speech     SpeechConfig     `yaml:"speech"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http"`
	NPU        NPUConfig        `yaml:"npu"`
}

type CaptureConfig struct {
	RateHz int    `yaml:"rate_hz"`
	Device int    `yaml:"device"`
	File   string `yaml:"file"`
	// Loop replays a video file when it ends
	Loop        bool   `yaml:"loop"`
	Orientation string `yaml:"orientation"` // up, right, down, left
}

type WindowConfig struct {
	DurationS float64 `yaml:"duration_s"`
}

type DebounceConfig struct {
	DurationMS int `yaml:"duration_ms"`
}

type SessionConfig struct {
	StartDelayMS int `yaml:"start_delay_ms"`
}

type PoseConfig struct {
	Model            string  `yaml:"model"`
	BoxThreshold     float32 `yaml:"box_threshold"`
	MinKeypointScore float32 `yaml:"min_keypoint_score"`
	// TimeoutMultiple bounds one extraction to this many frame intervals
	TimeoutMultiple int `yaml:"timeout_multiple"`
	PoolSize        int `yaml:"pool_size"`
}

type ClassifierConfig struct {
	Backend       string   `yaml:"backend"` // npu or worker
	Model         string   `yaml:"model"`
	Labels        string   `yaml:"labels"`
	WorkerCommand []string `yaml:"worker_command"`
	TimeoutMS     int      `yaml:"timeout_ms"`
	PoolSize      int      `yaml:"pool_size"`
	MaxInFlight   int      `yaml:"max_in_flight"`
}

type SpeechConfig struct {
	Command string  `yaml:"command"`
	Voice   string  `yaml:"voice"`
	Rate    float64 `yaml:"rate"` // 0..1
}

type MQTTConfig struct {
	// Broker disables status publishing when empty
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type NPUConfig struct {
	Platform string `yaml:"platform"`
}

// Default returns the configuration used for any field a file leaves out
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			RateHz:      30,
			Orientation: "up",
		},
		Window:   WindowConfig{DurationS: 2},
		Debounce: DebounceConfig{DurationMS: 600},
		Session:  SessionConfig{StartDelayMS: 3000},
		Pose: PoseConfig{
			Model:            "../data/yolov8n-pose-640-640-rk3588.rknn",
			BoxThreshold:     0.5,
			MinKeypointScore: 0.3,
			TimeoutMultiple:  4,
			PoolSize:         3,
		},
		Classifier: ClassifierConfig{
			Backend:     "npu",
			Model:       "../data/posture-60x3x18-rk3588.rknn",
			Labels:      "../data/posture_labels.txt",
			TimeoutMS:   1000,
			PoolSize:    1,
			MaxInFlight: 4,
		},
		Speech: SpeechConfig{
			Command: "espeak-ng",
			Voice:   "en-US",
			Rate:    0.5,
		},
		MQTT: MQTTConfig{
			Topic:    "posturecoach/status",
			ClientID: "posturecoach",
			QoS:      1,
		},
		HTTP: HTTPConfig{Addr: "localhost:8080"},
		NPU:  NPUConfig{Platform: "rk3588"},
	}
}

// Load reads the YAML file at path over the defaults and validates it
func Load(path string) (*Config, error) {

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {

	if c.Capture.RateHz <= 0 {
		return invalid("capture.rate_hz must be > 0")
	}

	switch strings.ToLower(c.Capture.Orientation) {
	case "", "up", "right", "down", "left":
	default:
		return invalid("capture.orientation %q is not one of up, right, down, left", c.Capture.Orientation)
	}

	if c.Window.DurationS <= 0 {
		return invalid("window.duration_s must be > 0")
	}

	if c.WindowCapacity() < 1 {
		return invalid("window of %.2fs at %dHz holds no frames", c.Window.DurationS, c.Capture.RateHz)
	}

	if c.Debounce.DurationMS < 0 {
		return invalid("debounce.duration_ms must be >= 0")
	}

	if c.Session.StartDelayMS < 0 {
		return invalid("session.start_delay_ms must be >= 0")
	}

	if c.Pose.Model == "" {
		return invalid("pose.model is required")
	}

	if c.Pose.BoxThreshold <= 0 || c.Pose.BoxThreshold >= 1 {
		return invalid("pose.box_threshold must be between 0 and 1")
	}

	switch c.Classifier.Backend {
	case "npu":
		if c.Classifier.Model == "" || c.Classifier.Labels == "" {
			return invalid("classifier.model and classifier.labels are required for the npu backend")
		}
	case "worker":
		if len(c.Classifier.WorkerCommand) == 0 {
			return invalid("classifier.worker_command is required for the worker backend")
		}
	default:
		return invalid("classifier.backend %q must be npu or worker", c.Classifier.Backend)
	}

	if c.Speech.Rate < 0 || c.Speech.Rate > 1 {
		return invalid("speech.rate must be between 0 and 1")
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return invalid("mqtt.topic is required when a broker is set")
	}

	if c.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0, 1 or 2")
	}

	return nil
}

// WindowCapacity is the number of frames in a classification window
func (c *Config) WindowCapacity() int {
	return window.Capacity(c.Capture.RateHz, c.Window.DurationS)
}

// FrameInterval is the time between delivered frames
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Capture.RateHz)
}

// PoseTimeout bounds one keypoint extraction, zero means unbounded
func (c *Config) PoseTimeout() time.Duration {
	return time.Duration(c.Pose.TimeoutMultiple) * c.FrameInterval()
}

// DebounceDuration is the quiet period before a label is committed
func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Debounce.DurationMS) * time.Millisecond
}

// StartDelay is the countdown before a session becomes active
func (c *Config) StartDelay() time.Duration {
	return time.Duration(c.Session.StartDelayMS) * time.Millisecond
}

// ClassifierTimeout bounds one classification, zero means unbounded
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutMS) * time.Millisecond
}
