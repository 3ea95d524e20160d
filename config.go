package lsmkv

import "go.uber.org/zap"

const (
	// DefaultMaxMemtableSize is the default MemTable capacity in entries
	// before it is sealed into a Segment.
	DefaultMaxMemtableSize = 1000
	// DefaultMaxSegments is the default Segment count threshold beyond which
	// a flush triggers a compaction.
	DefaultMaxSegments = 10
	// DefaultTTLMillis is the default time-to-live, in milliseconds, applied
	// to a Put that doesn't specify one explicitly.
	DefaultTTLMillis = 60000
)

// Config contains engine settings, updated via ConfigOption functions passed
// to Open.
type Config struct {
	maxMemtableSize int
	maxSegments     int
	defaultTTL      int64
	// defaultTTLSet records whether WithDefaultTTL was passed explicitly, so
	// Open can tell "caller wants the default" apart from "caller wants
	// exactly DefaultTTLMillis" when deciding whether a persisted
	// metadata.json value should override it.
	defaultTTLSet bool
	logger        *zap.Logger
}

// ConfigOption changes a default Config setting.
type ConfigOption func(*Config)

// WithMaxMemtableSize sets the MemTable capacity, in entries, at which it is
// sealed into a Segment.
func WithMaxMemtableSize(entries int) ConfigOption {
	return func(c *Config) {
		c.maxMemtableSize = entries
	}
}

// WithMaxSegments sets the Segment count threshold beyond which a flush
// triggers a compaction.
func WithMaxSegments(n int) ConfigOption {
	return func(c *Config) {
		c.maxSegments = n
	}
}

// WithDefaultTTL sets the default time-to-live, in milliseconds, applied to a
// Put that doesn't specify one explicitly. It also overrides whatever
// defaultTTL a prior Shutdown persisted to metadata.json.
func WithDefaultTTL(millis int64) ConfigOption {
	return func(c *Config) {
		c.defaultTTL = millis
		c.defaultTTLSet = true
	}
}

// WithLogger sets the structured logger used for recovery summaries,
// corrupt-segment diagnostics, and best-effort shutdown failures. The
// default is a no-op logger.
func WithLogger(logger *zap.Logger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}
