package centinela

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	dataDir           string
	databaseURL       string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	searchProvider    SearchProvider
	reasoner          Reasoner
}

// WithPort overrides the TCP port from config (CENTINELA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDataDir overrides the file backend's data directory (CENTINELA_DATA_DIR env var).
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the configured embedding provider.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithSearchProvider replaces the configured threat-intel provider. The
// domain allowlist still applies to its results.
func WithSearchProvider(p SearchProvider) Option {
	return func(o *resolvedOptions) { o.searchProvider = p }
}

// WithReasoner replaces the configured debate chat model. Only the last call
// wins. Passing nil keeps the deterministic debate path.
func WithReasoner(r Reasoner) Option {
	return func(o *resolvedOptions) { o.reasoner = r }
}
