package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/pelletier/go-toml/v2"

	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

// Server contains HTTP listener settings.
type Server struct {
	Addr                   string `toml:"addr" default:":8080"`
	MaxUploadBytes         int64  `toml:"max_upload_bytes" default:"10485760"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds" default:"15"`
}

// Engine selects the model file and inference backend.
type Engine struct {
	Backend      string `toml:"backend"`
	ModelPath    string `toml:"model_path" default:"models/siamesemodel.onnx"`
	MetadataPath string `toml:"metadata_path"`
	LibraryPath  string `toml:"library_path"`
	Threads      int    `toml:"threads" default:"1"`
}

// Preprocess controls image decoding and resizing.
type Preprocess struct {
	Interpolation string `toml:"interpolation" default:"bilinear"`
	MaxPixels     int    `toml:"max_pixels" default:"40000000"`
}

// Log contains logger settings.
type Log struct {
	Level       string `toml:"level" default:"info"`
	Format      string `toml:"format" default:"json"`
	File        string `toml:"file"`
	MaxAgeHours int    `toml:"max_age_hours" default:"168"`
}

// Config is the full service configuration.
type Config struct {
	Server     Server     `toml:"server"`
	Engine     Engine     `toml:"engine"`
	Preprocess Preprocess `toml:"preprocess"`
	Log        Log        `toml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// Load reads the TOML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if value := strings.TrimSpace(os.Getenv("MODEL_PATH")); value != "" {
		cfg.Engine.ModelPath = value
	}
	if value := strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB")); value != "" {
		cfg.Engine.LibraryPath = value
	}
	if value := strings.TrimSpace(os.Getenv("LOG_LEVEL")); value != "" {
		cfg.Log.Level = value
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout_seconds must be positive"))
	}

	if strings.TrimSpace(c.Engine.ModelPath) == "" {
		errs = append(errs, errors.New("engine.model_path must be set"))
	} else if _, err := model.BackendFor(c.Engine.Backend, c.Engine.ModelPath); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Engine.Threads < 0 {
		errs = append(errs, errors.New("engine.threads must not be negative"))
	}

	if !preprocess.ValidInterpolation(c.Preprocess.Interpolation) {
		errs = append(errs, fmt.Errorf("preprocess.interpolation %q is not supported", c.Preprocess.Interpolation))
	}
	if c.Preprocess.MaxPixels < 0 {
		errs = append(errs, errors.New("preprocess.max_pixels must not be negative"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Log.MaxAgeHours <= 0 {
		errs = append(errs, errors.New("log.max_age_hours must be positive"))
	}

	return errors.Join(errs...)
}

// Sample renders the default configuration as TOML.
func Sample() (string, error) {
	data, err := toml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
