// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package config defines the tunable parameters of the
// acceleration structure builders and the submission
// layer, and decodes them from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Task       Task       `toml:"task" yaml:"task"`
	Repository Repository `toml:"repository" yaml:"repository"`
	Scene      Scene      `toml:"scene" yaml:"scene"`
	Log        Log        `toml:"log" yaml:"log"`
}

// Task configures command submission.
type Task struct {
	// FenceTimeout bounds every blocking wait on a fence.
	// A negative value waits indefinitely.
	FenceTimeout Duration `toml:"fence_timeout" yaml:"fence_timeout"`
}

// Repository configures bottom-level structure storage.
type Repository struct {
	// ScratchAlign is the granularity, in bytes, of the
	// shared scratch buffer size. It must be a power of
	// two. Zero selects the device's alignment.
	ScratchAlign int64 `toml:"scratch_align" yaml:"scratch_align"`
}

// Scene configures top-level structure management.
type Scene struct {
	// InstanceGrowth is the factor by which the instance
	// buffer capacity is multiplied when it must grow.
	InstanceGrowth float64 `toml:"instance_growth" yaml:"instance_growth"`
	// MaxGrowthStep caps the number of instances added
	// by a single growth. Zero selects the default cap and
	// a negative value means no cap.
	MaxGrowthStep int `toml:"max_growth_step" yaml:"max_growth_step"`
	// MinInstances is the smallest instance buffer
	// capacity ever allocated.
	MinInstances int `toml:"min_instances" yaml:"min_instances"`
}

// Log configures the default logger.
type Log struct {
	Level slog.Level `toml:"level" yaml:"level"`
}

// DefaultFenceTimeout is the fence timeout used when none
// is configured.
const DefaultFenceTimeout = 10 * time.Second

// Default returns the default configuration.
func Default() Config {
	return Config{
		Task: Task{FenceTimeout: Duration(DefaultFenceTimeout)},
		Scene: Scene{
			InstanceGrowth: 2,
			MaxGrowthStep:  4096,
			MinInstances:   64,
		},
		Log: Log{Level: slog.LevelInfo},
	}
}

// ErrInvalid means that a configuration value is out of
// range.
var ErrInvalid = errors.New("config: invalid value")

// Validate checks c for values out of range.
func (c *Config) Validate() error {
	var errs []error
	if a := c.Repository.ScratchAlign; a < 0 || a&(a-1) != 0 {
		errs = append(errs, fmt.Errorf("%w: scratch_align %d is not a power of two", ErrInvalid, a))
	}
	if g := c.Scene.InstanceGrowth; g <= 1 {
		errs = append(errs, fmt.Errorf("%w: instance_growth %g must be greater than 1", ErrInvalid, g))
	}
	if c.Scene.MinInstances < 1 {
		errs = append(errs, fmt.Errorf("%w: min_instances %d must be positive", ErrInvalid, c.Scene.MinInstances))
	}
	return errors.Join(errs...)
}

// Load reads the configuration file at path.
// The format is chosen from the file extension: .toml,
// .yaml or .yml. Values missing from the file keep their
// defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return Decode(f, FormatTOML)
	case ".yaml", ".yml":
		return Decode(f, FormatYAML)
	default:
		return Config{}, fmt.Errorf("config: unknown file extension %q", ext)
	}
}

// Format is the encoding of a configuration.
type Format int

// Formats.
const (
	FormatTOML Format = iota
	FormatYAML
)

// Decode decodes a configuration in the given format.
// The result is validated.
func Decode(r io.Reader, format Format) (Config, error) {
	c := Default()
	var err error
	switch format {
	case FormatTOML:
		_, err = toml.NewDecoder(r).Decode(&c)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&c)
		if errors.Is(err, io.EOF) {
			// Empty document.
			err = nil
		}
	default:
		err = fmt.Errorf("config: unknown format %d", format)
	}
	if err != nil {
		return Config{}, err
	}
	if err = c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Encode writes c to w as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Logger creates a text logger writing to w at the
// configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Log.Level}))
}

// Duration is a time.Duration that is encoded as a
// string such as "10s" or "1m30s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	x, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	*d = Duration(x)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
