// Package config provides configuration management for FaceAttend.
// It loads configuration from YAML files with sensible defaults and
// lets FACEATTEND_* environment variables override individual keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "FACEATTEND_"

// Config holds all FaceAttend configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings. Device may also point at a directory
// of JPEG files, which is replayed instead of a live camera.
type CameraConfig struct {
	Device     string `yaml:"device"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	ModelPath          string  `yaml:"model_path"`
	Tolerance          float64 `yaml:"tolerance"`
	DuplicateTolerance float64 `yaml:"duplicate_tolerance"`
	UseCNN             bool    `yaml:"use_cnn"`
}

// EnrollmentConfig holds the capture protocol settings.
type EnrollmentConfig struct {
	Samples            int `yaml:"samples"`
	DuplicateTimeout   int `yaml:"duplicate_timeout"`
	CaptureTimeout     int `yaml:"capture_timeout"`
	MaxCaptureAttempts int `yaml:"max_capture_attempts"`
	CaptureIntervalMs  int `yaml:"capture_interval_ms"`
}

// AttendanceConfig holds scan settings.
type AttendanceConfig struct {
	ScanTimeout  int  `yaml:"scan_timeout"`
	StopOnStable bool `yaml:"stop_on_stable"`
	StableFrames int  `yaml:"stable_frames"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	ImagesDir         string `yaml:"images_dir"`
	EmbeddingsFile    string `yaml:"embeddings_file"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceattend")
	return &Config{
		Camera: CameraConfig{
			Device:     "/dev/video0",
			Width:      640,
			Height:     480,
			FPS:        30,
			FFmpegPath: "ffmpeg",
		},
		Recognition: RecognitionConfig{
			ModelPath:          filepath.Join(dataDir, "models"),
			Tolerance:          0.5,
			DuplicateTolerance: 0.5,
		},
		Enrollment: EnrollmentConfig{
			Samples:            10,
			DuplicateTimeout:   30,
			CaptureTimeout:     120,
			MaxCaptureAttempts: 200,
			CaptureIntervalMs:  1000,
		},
		Attendance: AttendanceConfig{
			ScanTimeout:  15,
			StopOnStable: false,
			StableFrames: 5,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			ImagesDir:         filepath.Join(dataDir, "employee_images"),
			EmbeddingsFile:    filepath.Join(dataDir, "embeddings.cbor"),
			EncryptionEnabled: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dataDir, "attendance.db"),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "faceattend.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries the system config, then the user config, then defaults.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceattend/faceattend.yaml"); err == nil {
		return Load("/etc/faceattend/faceattend.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceattend/faceattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ApplyEnv overrides configuration keys from FACEATTEND_* variables using
// lookup. Pass os.LookupEnv in production. Malformed numbers are reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"CAMERA_DEVICE":   &c.Camera.Device,
		"MODEL_PATH":      &c.Recognition.ModelPath,
		"DATA_DIR":        &c.Storage.DataDir,
		"IMAGES_DIR":      &c.Storage.ImagesDir,
		"EMBEDDINGS_FILE": &c.Storage.EmbeddingsFile,
		"DB_DRIVER":       &c.Database.Driver,
		"DB_DSN":          &c.Database.DSN,
		"SERVER_HOST":     &c.Server.Host,
		"LOG_LEVEL":       &c.Logging.Level,
		"LOG_FILE":        &c.Logging.File,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":       &c.Server.Port,
		"SCAN_TIMEOUT":      &c.Attendance.ScanTimeout,
		"ENROLL_SAMPLES":    &c.Enrollment.Samples,
		"DUPLICATE_TIMEOUT": &c.Enrollment.DuplicateTimeout,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"TOLERANCE":           &c.Recognition.Tolerance,
		"DUPLICATE_TOLERANCE": &c.Recognition.DuplicateTolerance,
	}
	for key, dst := range floats {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = f
	}

	if v, ok := lookup(EnvPrefix + "ENCRYPTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sENCRYPTION: %w", EnvPrefix, err)
		}
		c.Storage.EncryptionEnabled = b
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.DuplicateTolerance <= 0 || c.Recognition.DuplicateTolerance > 1 {
		return fmt.Errorf("duplicate_tolerance must be in (0, 1], got %f", c.Recognition.DuplicateTolerance)
	}

	if c.Enrollment.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", c.Enrollment.Samples)
	}
	if c.Enrollment.DuplicateTimeout <= 0 {
		return fmt.Errorf("duplicate_timeout must be positive, got %d", c.Enrollment.DuplicateTimeout)
	}
	if c.Enrollment.CaptureTimeout <= 0 {
		return fmt.Errorf("capture_timeout must be positive, got %d", c.Enrollment.CaptureTimeout)
	}
	if c.Enrollment.MaxCaptureAttempts < c.Enrollment.Samples {
		return fmt.Errorf("max_capture_attempts (%d) must be at least samples (%d)",
			c.Enrollment.MaxCaptureAttempts, c.Enrollment.Samples)
	}
	if c.Enrollment.CaptureIntervalMs < 0 {
		return fmt.Errorf("capture_interval_ms must not be negative, got %d", c.Enrollment.CaptureIntervalMs)
	}

	if c.Attendance.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %d", c.Attendance.ScanTimeout)
	}
	if c.Attendance.StopOnStable && c.Attendance.StableFrames <= 0 {
		return fmt.Errorf("stable_frames must be positive when stop_on_stable is set, got %d", c.Attendance.StableFrames)
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.ImagesDir = ExpandPath(c.Storage.ImagesDir)
	c.Storage.EmbeddingsFile = ExpandPath(c.Storage.EmbeddingsFile)
	c.Logging.File = ExpandPath(c.Logging.File)
	if c.Database.Driver == "sqlite" && c.Database.DSN != ":memory:" {
		c.Database.DSN = ExpandPath(c.Database.DSN)
	}
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Storage.ImagesDir, 0755); err != nil {
		return fmt.Errorf("failed to create images directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Storage.EmbeddingsFile), 0700); err != nil {
		return fmt.Errorf("failed to create embeddings directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// DuplicateTimeout returns the duplicate screen window.
func (c *Config) DuplicateTimeout() time.Duration {
	return time.Duration(c.Enrollment.DuplicateTimeout) * time.Second
}

// CaptureTimeout returns the guided capture window.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Enrollment.CaptureTimeout) * time.Second
}

// CaptureInterval returns the auto-accept shutter interval.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Enrollment.CaptureIntervalMs) * time.Millisecond
}

// ScanTimeout returns the attendance scan window.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Attendance.ScanTimeout) * time.Second
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
