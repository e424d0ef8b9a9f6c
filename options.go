package asice

type readConfig struct {
	limits Limits
	eager  bool
	config Configuration
}

func newReadConfig(opts []ReadOption) readConfig {
	cfg := readConfig{limits: defaultLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.limits = cfg.limits.withDefaults()
	return cfg
}

type ReadOption func(*readConfig)

func WithReadLimits(l Limits) ReadOption {
	return func(c *readConfig) { c.limits = l }
}

// WithEagerContent makes ParseArchive extract data-file bytes up front
// instead of deferring them until Content is called. ParseStream always
// extracts eagerly; the option has no effect there.
func WithEagerContent(v bool) ReadOption {
	return func(c *readConfig) { c.eager = v }
}

// WithConfiguration attaches the settings provider consulted by the
// downstream validation layer. The parser itself never reads it; the
// reference is carried on the resulting Container.
func WithConfiguration(cfg Configuration) ReadOption {
	return func(c *readConfig) { c.config = cfg }
}
