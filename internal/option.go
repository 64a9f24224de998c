package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config      *Config
	noGUI       bool
	cleanTables bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithNoGUI skips the auxiliary visualization and frontend servers.
func WithNoGUI(v bool) Option {
	return func(a *application) {
		a.noGUI = v
	}
}

// WithCleanTables drops every shadow table on shutdown.
func WithCleanTables(v bool) Option {
	return func(a *application) {
		a.cleanTables = v
	}
}
