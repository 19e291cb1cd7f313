// Package config provides layered configuration for the knowledge graph
// engine: typed defaults in code, YAML overlays per environment, and
// environment-variable overrides for deployment.
//
// # Configuration Hierarchy
//
// Load builds the configuration from every source in priority order
// (highest wins):
//  1. Default values in code (lowest priority)
//  2. base.yaml - common configuration for all environments
//  3. {environment}.yaml - environment-specific overrides
//  4. local.yaml - local developer overrides, development only
//  5. Environment variables (highest priority)
//
// The directory holding the YAML layers defaults to ./config and can be
// moved with CONFIG_DIR. Missing files are skipped silently; unknown YAML
// keys are rejected so typos fail the boot instead of disappearing.
//
// # Environments
//
// ENVIRONMENT selects the profile: "production", "staging", or anything
// else for development. Defaults differ per environment (console logging
// and hot reload in development, JSON logging and tracing in production);
// the Config shape is identical everywhere.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatalf("configuration: %v", err)
//	}
//	srv := &http.Server{
//	    Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
//	    ReadTimeout: cfg.Server.ReadTimeout,
//	}
//
// Load validates before returning, so a *Config in hand is always a valid
// one. MustLoad wraps Load for main functions.
//
// # Environment Variables
//
// Deployment-level settings have dedicated override variables:
//
//	SERVER_HOST, SERVER_PORT
//	STORE_BACKEND, SQLITE_PATH, DYNAMODB_TABLE, DYNAMODB_ENDPOINT, AWS_REGION
//	LLM_BASE_URL, LLM_API_KEY, LLM_MODEL
//	EMBEDDING_PROVIDER, EMBEDDING_BASE_URL, EMBEDDING_API_KEY,
//	EMBEDDING_MODEL, EMBEDDING_DIMENSION
//	DATA_DIR, JOB_WORKERS
//	EVENTS_PROVIDER, EVENT_BUS_NAME
//	LOG_LEVEL, LOG_FORMAT
//	TRACING_ENABLED, OTLP_ENDPOINT, TRACING_SAMPLE_RATE
//
// # Credentials
//
// YAML files should never carry real keys; point the api_key fields at
// nothing and supply LLM_API_KEY / EMBEDDING_API_KEY in the environment.
// Model configurations managed over the admin API go one step further:
// they persist only the NAME of an environment variable (api_key_env),
// and the provider client reads that variable when it is built.
//
// # Validation
//
// Validate applies range and cross-field rules: port bounds, store and
// event backend selection, embedding dimension and batch size, chunking
// word budgets, worker counts and query bounds. Failures name the
// offending field and value. Validation runs inside Load and again on
// hot reload; a reload that fails validation keeps the last good
// configuration.
//
// # Hot Reload (Development Only)
//
// In development a Watcher follows the config directory and reloads on
// YAML changes, debounced per editor save:
//
//	watcher, err := config.NewWatcher(cfg, logger)
//	watcher.OnReload(func(next *config.Config) {
//	    logger.Info("configuration reloaded")
//	})
//	defer watcher.Stop()
//
// Wiring is fixed at startup, so a reload refreshes the snapshot served
// by Current and notifies callbacks; components pick the changes up on
// the next restart.
//
// # Testing
//
// Tests build configuration in memory from the same defaults the binary
// uses, then override what the test needs:
//
//	cfg := config.Default(config.Development)
//	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "kgraph.db")
package config
