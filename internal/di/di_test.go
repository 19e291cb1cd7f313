package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/store"
	"kgraph/internal/store/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(config.Development)
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "kgraph.db")
	cfg.Ingest.DataDir = t.TempDir()
	return cfg
}

func TestInitializeContainerWiresEverything(t *testing.T) {
	cfg := testConfig(t)

	c, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, cfg, c.Config)
	require.NotNil(t, c.Logger)
	require.NotNil(t, c.Metrics)
	require.NotNil(t, c.Graph)
	require.NotNil(t, c.Objects)
	require.NotNil(t, c.Intake)
	require.NotNil(t, c.Registry)
	require.NotNil(t, c.Vectors)
	require.NotNil(t, c.Keywords)
	require.NotNil(t, c.Matcher)
	require.NotNil(t, c.Extractor)
	require.NotNil(t, c.Consolidator)
	require.NotNil(t, c.Queries)
	require.NotNil(t, c.Queue)
	require.NotNil(t, c.Worker)
	require.NotNil(t, c.Scheduler)

	// Without an external bus the local dispatcher publishes directly.
	assert.Same(t, c.Local, c.Publisher)

	// Builtin vocabulary is seeded during wiring.
	st := c.Vocabulary.Status()
	assert.Greater(t, st.BuiltinActive, 0)
	assert.Equal(t, st.ActiveCount, st.BuiltinActive)
}

func TestInitializeContainerHonorsStoredActiveConfig(t *testing.T) {
	cfg := testConfig(t)

	// Activate a mock embedder in the store before the process "starts".
	seed, err := sqlite.New(cfg.Store.SQLite.Path)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, seed.PutModelConfig(store.WithWriteIntent(context.Background()), &domain.ModelConfig{
		ID:        "mc_offline",
		Kind:      domain.ModelConfigEmbedding,
		Name:      "offline",
		Provider:  "mock",
		Model:     "mock",
		Dimension: 64,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, seed.Close())

	c, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	// The stored activation wins over the file-configured provider.
	assert.Equal(t, "mock", c.Registry.Embedder().Name())
	assert.Equal(t, 64, c.Registry.Embedder().Dimension())
}

func TestInitializeContainerFansOutWhenEventBridgeConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Provider = "eventbridge"
	cfg.Events.EventBusName = "kg-events"

	c, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	fan, ok := c.Publisher.(events.Fanout)
	require.True(t, ok, "eventbridge publishing should fan out through the local dispatcher")
	require.Len(t, fan, 2)
	assert.Same(t, c.Local, fan[0])
}
