package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/codefionn/tilewall/internal/consts"
)

// ServerConfig holds the WebSocket/HTTP listener settings
type ServerConfig struct {
	ListenAddr     string `json:"listen_addr" yaml:"listen_addr" env:"TILEWALL_LISTEN_ADDR"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections" env:"TILEWALL_MAX_CONNECTIONS"`
	MarkerPixels   int    `json:"marker_pixels" yaml:"marker_pixels" env:"TILEWALL_MARKER_PIXELS"`
	MaxSlots       int    `json:"max_slots" yaml:"max_slots" env:"TILEWALL_MAX_SLOTS"`
	// MarkerDictionary is an OpenCV bytesList export. Empty uses the
	// compiled-in family.
	MarkerDictionary string `json:"marker_dictionary,omitempty" yaml:"marker_dictionary,omitempty" env:"TILEWALL_MARKER_DICTIONARY"`
}

// DiscoveryConfig holds the UDP discovery responder settings
type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"TILEWALL_DISCOVERY_ENABLED"`
	Addr     string `json:"addr" yaml:"addr" env:"TILEWALL_DISCOVERY_ADDR"`
	Request  string `json:"request" yaml:"request" env:"TILEWALL_DISCOVERY_REQUEST"`
	Response string `json:"response" yaml:"response" env:"TILEWALL_DISCOVERY_RESPONSE"`
}

// CalibrationConfig holds the camera calibration settings
type CalibrationConfig struct {
	TimeoutSeconds         int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"TILEWALL_CALIBRATION_TIMEOUT_SECONDS"`
	MaxFrames              int    `json:"max_frames" yaml:"max_frames" env:"TILEWALL_CALIBRATION_MAX_FRAMES"`
	FrameIntervalMillis    int    `json:"frame_interval_millis" yaml:"frame_interval_millis" env:"TILEWALL_CALIBRATION_FRAME_INTERVAL_MILLIS"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures" yaml:"max_consecutive_failures" env:"TILEWALL_CALIBRATION_MAX_FAILURES"`
	Backend                string `json:"backend" yaml:"backend" env:"TILEWALL_CALIBRATION_BACKEND"` // "opencv" or "replay"
	Device                 int    `json:"device" yaml:"device" env:"TILEWALL_CAMERA_DEVICE"`
	ReplayFile             string `json:"replay_file,omitempty" yaml:"replay_file,omitempty" env:"TILEWALL_REPLAY_FILE"`
}

// StreamConfig holds the multicast encoder settings
type StreamConfig struct {
	FFmpegPath     string `json:"ffmpeg_path" yaml:"ffmpeg_path" env:"TILEWALL_FFMPEG_PATH"`
	MulticastGroup string `json:"multicast_group" yaml:"multicast_group" env:"TILEWALL_MULTICAST_GROUP"`
	MulticastPort  int    `json:"multicast_port" yaml:"multicast_port" env:"TILEWALL_MULTICAST_PORT"`
	Bitrate        string `json:"bitrate" yaml:"bitrate" env:"TILEWALL_STREAM_BITRATE"`
	MediaDir       string `json:"media_dir" yaml:"media_dir" env:"TILEWALL_MEDIA_DIR"`
	LocalAddr      string `json:"local_addr,omitempty" yaml:"local_addr,omitempty" env:"TILEWALL_STREAM_LOCAL_ADDR"`
}

// Config represents application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Discovery   DiscoveryConfig   `json:"discovery" yaml:"discovery"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
	Stream      StreamConfig      `json:"stream" yaml:"stream"`
	StoragePath string            `json:"storage_path" yaml:"storage_path" env:"TILEWALL_STORAGE_PATH"`
	LogLevel    string            `json:"log_level" yaml:"log_level" env:"TILEWALL_LOG_LEVEL"` // debug, info, warn, error, none
	LogPath     string            `json:"log_path" yaml:"log_path" env:"TILEWALL_LOG_PATH"`     // empty or "-" for stderr
}

func defaultStateDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "tilewall")
		}
		return filepath.Join(homeDir, ".local", "state", "tilewall")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "tilewall")
		}
		return filepath.Join(homeDir, "AppData", "Local", "tilewall")
	default:
		return filepath.Join(homeDir, ".config", "tilewall")
	}
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "tilewall")
		}
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "tilewall")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8000",
			MaxConnections: 64,
			MarkerPixels:   consts.DefaultMarkerPixels,
			MaxSlots:       consts.DefaultMaxSlots,
		},
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Addr:     fmt.Sprintf("0.0.0.0:%d", consts.DefaultDiscoveryPort),
			Request:  consts.DiscoveryRequest,
			Response: consts.DiscoveryResponse,
		},
		Calibration: CalibrationConfig{
			TimeoutSeconds:         int(consts.Timeout2Minutes / time.Second),
			MaxFrames:              0,
			FrameIntervalMillis:    33,
			MaxConsecutiveFailures: 30,
			Backend:                "opencv",
			Device:                 0,
		},
		Stream: StreamConfig{
			FFmpegPath:     "ffmpeg",
			MulticastGroup: "239.0.0.1",
			MulticastPort:  5000,
			Bitrate:        "3000k",
			MediaDir:       ".",
		},
		StoragePath: filepath.Join(stateDir, "tilewall.db"),
		LogLevel:    "info",
		LogPath:     "-",
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// ApplyEnv overrides fields from TILEWALL_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be positive, got %d", c.Server.MaxConnections)
	}
	if c.Server.MarkerPixels < 1 {
		return fmt.Errorf("server.marker_pixels must be at least 1, got %d", c.Server.MarkerPixels)
	}
	if c.Discovery.Enabled {
		if _, err := net.ResolveUDPAddr("udp4", c.Discovery.Addr); err != nil {
			return fmt.Errorf("discovery.addr %q: %w", c.Discovery.Addr, err)
		}
		if c.Discovery.Request == "" || c.Discovery.Response == "" {
			return fmt.Errorf("discovery request and response payloads must be set")
		}
	}
	if c.Calibration.TimeoutSeconds <= 0 {
		return fmt.Errorf("calibration.timeout_seconds must be positive, got %d", c.Calibration.TimeoutSeconds)
	}
	if c.Calibration.MaxFrames < 0 {
		return fmt.Errorf("calibration.max_frames must not be negative, got %d", c.Calibration.MaxFrames)
	}
	switch c.Calibration.Backend {
	case "opencv":
	case "replay":
		if c.Calibration.ReplayFile == "" {
			return fmt.Errorf("calibration.replay_file is required for the replay backend")
		}
	default:
		return fmt.Errorf("unknown calibration.backend %q", c.Calibration.Backend)
	}
	if ip := net.ParseIP(c.Stream.MulticastGroup); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("stream.multicast_group %q is not a multicast address", c.Stream.MulticastGroup)
	}
	if c.Stream.MulticastPort <= 0 || c.Stream.MulticastPort > 65535 {
		return fmt.Errorf("stream.multicast_port out of range: %d", c.Stream.MulticastPort)
	}
	return nil
}

// CalibrationTimeout returns the hard wall-clock ceiling of one run
func (c *Config) CalibrationTimeout() time.Duration {
	return time.Duration(c.Calibration.TimeoutSeconds) * time.Second
}

// FrameInterval returns the pause between two capture attempts
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Calibration.FrameIntervalMillis) * time.Millisecond
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
