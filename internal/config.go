package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/starford/resultbox/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app" toml:"app" json:"app"`
	Data     DataConfig        `yaml:"data" toml:"data" json:"data"`
	Manifest ManifestConfig    `yaml:"manifest" toml:"manifest" json:"manifest"`
	SQLite   SQLiteConfig      `yaml:"sqlite" toml:"sqlite" json:"sqlite"`
	Auth     AuthConfig        `yaml:"auth" toml:"auth" json:"auth"`
	Watch    WatchConfig       `yaml:"watch" toml:"watch" json:"watch"`
	Aux      AuxConfig         `yaml:"aux" toml:"aux" json:"aux"`

	// CleanTables drops every shadow table on shutdown. Set from the CLI.
	CleanTables bool `yaml:"clean_tables" toml:"clean_tables" json:"clean_tables"`
}

// Validate validates the configuration and normalises its paths.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.Manifest.Validate(c.Data.Dir); err != nil {
		return err
	}
	if err := c.SQLite.Validate(c.Data.Dir); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(c.Data.Dir); err != nil {
		return err
	}
	return c.Aux.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level" json:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http" json:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port" json:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataConfig holds the data directory. Its input, results, archive, dropbox
// and .tmp subdirectories are created at startup.
type DataConfig struct {
	Dir string `yaml:"dir" toml:"dir" json:"dir"`
}

// Validate validates the data configuration and makes Dir absolute.
func (c *DataConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	); err != nil {
		return err
	}
	dir, err := absPath(c.Dir)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	c.Dir = dir
	return nil
}

// Dropbox is the watched upload inbox.
func (c *DataConfig) Dropbox() string { return filepath.Join(c.Dir, "dropbox") }

// Results holds the per-job output directories.
func (c *DataConfig) Results() string { return filepath.Join(c.Dir, "results") }

// Staging holds partially written uploads.
func (c *DataConfig) Staging() string { return filepath.Join(c.Dir, ".tmp") }

// Subdirs lists every directory created at startup.
func (c *DataConfig) Subdirs() []string {
	return []string{
		filepath.Join(c.Dir, "input"),
		c.Results(),
		filepath.Join(c.Dir, "archive"),
		c.Dropbox(),
		c.Staging(),
	}
}

// ManifestConfig names the backing files of the manifest. Processes holds
// the process counter and the job sections; Dropbox holds the dropbox
// section. Relative paths are resolved against the data directory.
type ManifestConfig struct {
	Processes string `yaml:"processes" toml:"processes" json:"processes"`
	Dropbox   string `yaml:"dropbox" toml:"dropbox" json:"dropbox"`
}

// Validate validates the manifest configuration and resolves its paths.
func (c *ManifestConfig) Validate(dataDir string) error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Processes, validation.Required),
		validation.Field(&c.Dropbox, validation.Required),
	); err != nil {
		return err
	}
	for _, p := range []*string{&c.Processes, &c.Dropbox} {
		resolved, err := resolvePath(dataDir, *p)
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		*p = resolved
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// Validate validates the SQLite configuration and makes a relative Path
// absolute under dataDir. In-memory and file: URIs are left alone.
func (c *SQLiteConfig) Validate(dataDir string) error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return err
	}
	if c.Path == ":memory:" || strings.HasPrefix(c.Path, "file:") {
		return nil
	}
	resolved, err := resolvePath(dataDir, c.Path)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	c.Path = resolved
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode" json:"mode"`
	Token string `yaml:"token" toml:"token" json:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WatchConfig tunes the filesystem watchers.
type WatchConfig struct {
	// MoveWindow is how long a rename waits for its destination.
	MoveWindow config.Duration `yaml:"move_window" toml:"move_window" json:"move_window"`
	// LockDir holds one lock file per watched root. Defaults to <data>/.locks.
	LockDir string `yaml:"lock_dir" toml:"lock_dir" json:"lock_dir"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate(dataDir string) error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MoveWindow, validation.Min(config.Duration(0)), validation.Max(config.Duration(10*time.Second))),
	); err != nil {
		return err
	}
	if c.LockDir == "" {
		c.LockDir = ".locks"
	}
	dir, err := resolvePath(dataDir, c.LockDir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	c.LockDir = dir
	return nil
}

// AuxConfig describes the auxiliary servers started next to the API.
type AuxConfig struct {
	// Visualization is a command line started as a child process.
	Visualization string `yaml:"visualization" toml:"visualization" json:"visualization"`
	// FrontendDir is served as static files on FrontendPort.
	FrontendDir  string `yaml:"frontend_dir" toml:"frontend_dir" json:"frontend_dir"`
	FrontendPort int    `yaml:"frontend_port" toml:"frontend_port" json:"frontend_port"`
	// NoGUI disables both servers.
	NoGUI bool `yaml:"no_gui" toml:"no_gui" json:"no_gui"`
}

// Validate validates the auxiliary server configuration.
func (c *AuxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FrontendPort, validation.When(c.FrontendDir != "", validation.Required, validation.Min(1), validation.Max(65535))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Data: DataConfig{
			Dir: "~/.resultbox",
		},
		Manifest: ManifestConfig{
			Processes: "processes.json",
			Dropbox:   "dropbox.json",
		},
		SQLite: SQLiteConfig{
			Path: "resultbox.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Watch: WatchConfig{
			MoveWindow: config.Duration(250 * time.Millisecond),
		},
		Aux: AuxConfig{
			FrontendPort: 3000,
		},
	}
}

// absPath expands a leading ~ and makes p absolute.
func absPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

// resolvePath is absPath, with relative paths taken from base.
func resolvePath(base, p string) (string, error) {
	if !filepath.IsAbs(p) && p != "~" && !strings.HasPrefix(p, "~/") {
		p = filepath.Join(base, p)
	}
	return absPath(p)
}
