package store

// Opts holds configuration options for the storage backends.
type Opts struct {
	Path       string // JSON data file path (JSON store)
	DSN        string // database connection string (SQLite / Postgres stores)
	SessionDir string // directory for session dump files (JSON store)
}

// Option defines a configuration option for a storage backend.
type Option func(*Opts)

// WithJSONPath sets the path of the flat JSON data file.
func WithJSONPath(path string) Option {
	return func(o *Opts) { o.Path = path }
}

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSessionDir sets the directory session dumps are written to.
func WithSessionDir(dir string) Option {
	return func(o *Opts) { o.SessionDir = dir }
}
