// Package config loads configuration files with environment variable
// expansion. The format follows the file extension: YAML (default), TOML or
// JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a file with environment variable expansion.
func Load[T any](filename string, target *T) error {
	return LoadLayered(filename, "", target)
}

// LoadLayered loads filename and then applies override on top of it, so the
// override only replaces the fields it sets. A missing override file is
// ignored. Validation runs once, after both layers.
func LoadLayered[T any](filename, override string, target *T) error {
	if err := decodeFile(filename, target); err != nil {
		return err
	}
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			if err := decodeFile(override, target); err != nil {
				return err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat config override %s: %w", override, err)
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

func decodeFile(filename string, target any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Decode(filename, []byte(os.ExpandEnv(string(data))), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// Decode unmarshals data into target using the format implied by the
// extension of filename.
func Decode(filename string, data []byte, target any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		return toml.Unmarshal(data, target)
	case ".json":
		return json.Unmarshal(data, target)
	default:
		return yaml.Unmarshal(data, target)
	}
}

// Duration is a time.Duration written as a string ("250ms") in every
// supported format.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
