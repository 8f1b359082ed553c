package lpg

import (
	"os"
	"runtime"
)

// DefaultSeparator is the byte marking string boundaries in multi-string
// inputs.
const DefaultSeparator = 0x0A

// Config holds configuration for the grammar builder.
type Config struct {
	Threads    int    // Number of parallel workers per stage (0 = GOMAXPROCS)
	HashBuffer int    // Total byte budget for the hashing stage, split among workers (0 = unbounded)
	TempDir    string // Parent for the run's temporary directory (empty = system default)
	Separator  byte   // String-boundary byte (default 0x0A)
	Level      uint8  // Container compression level, 1 or 2
}

// Option is a functional option for configuring the builder.
type Option func(*Config)

// WithThreads sets the number of parallel workers used by the hashing and
// rewriting stages of every round.
func WithThreads(n int) Option {
	return func(c *Config) {
		c.Threads = n
	}
}

// WithHashBuffer bounds the total memory of the hashing stage. The budget
// is divided equally among workers; a worker whose phrase table outgrows
// its share spills the table to disk and continues.
func WithHashBuffer(bytes int) Option {
	return func(c *Config) {
		c.HashBuffer = bytes
	}
}

// WithTempDir sets the directory under which the run's scratch directory
// is created. The scratch directory is removed when the build finishes,
// on all exit paths.
func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithSeparator sets the string-boundary byte.
func WithSeparator(sep byte) Option {
	return func(c *Config) {
		c.Separator = sep
	}
}

// WithCompressionLevel sets the container compression level. Level 1
// stores packed vectors verbatim; level 2 deflates the container payload.
func WithCompressionLevel(level uint8) Option {
	return func(c *Config) {
		c.Level = level
	}
}

func resolveConfig(opts []Option) Config {
	cfg := Config{
		Threads:   1,
		Separator: DefaultSeparator,
		Level:     1,
		TempDir:   os.TempDir(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	return cfg
}
