package integration_test

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"anonrelay/internal/database"
	"anonrelay/internal/l10n"
	"anonrelay/internal/service"
	"anonrelay/pkg/mediagen"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const adminUserID int64 = 900

// EnvironmentOptions tunes a test environment.
type EnvironmentOptions struct {
	CooldownSec int
	EffectID    string
}

// TestEnvironment wires the full stack against a real SQLite database and a
// mock gateway: HTTP client, services, engine. Only the gateway side is faked.
type TestEnvironment struct {
	t        *testing.T
	Gateway  *mockGateway
	DB       *database.Database
	Engine   *service.Engine
	Registry service.Registry
	MediaDir string
}

func NewTestEnvironment(t *testing.T, opts EnvironmentOptions) *TestEnvironment {
	t.Setenv("ANONRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("ANONRELAY_ENCRYPTION_SECRET", "integration-secret-key-32-characters!!")

	gateway := newMockGateway()
	t.Cleanup(gateway.Close)

	tmpDir := t.TempDir()
	db, err := database.New(filepath.Join(tmpDir, "integration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := l10n.Load(filepath.Join("..", "locales"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	client := transport.NewClient(gateway.URL(), "test-token", &http.Client{Timeout: 5 * time.Second})

	mediaDir := filepath.Join(tmpDir, "media")
	provider := mediagen.NewHTTPProvider("mock", gateway.URL(), "test-key", mediaDir, 5*time.Second)
	generator := mediagen.NewGenerator(mediagen.Options{
		VoiceProviders: []mediagen.Provider{provider},
		ImageProviders: []mediagen.Provider{provider},
		CardProvider:   provider,
		MaxAttempts:    1,
		Logger:         logger,
	})

	registry := service.NewRegistry(db)
	allocator := service.NewAllocator(db, 456, 24)
	dispatcher := service.NewDispatcher(service.DispatcherOptions{
		Store:              db,
		Registry:           registry,
		Allocator:          allocator,
		Client:             client,
		Catalog:            catalog,
		Logger:             logger,
		DefaultCooldownSec: opts.CooldownSec,
		EffectID:           opts.EffectID,
		AdminChatID:        adminUserID,
	})
	composer := service.NewComposer(registry, dispatcher, generator, client, catalog, logger)
	admin := service.NewAdmin(db, client, catalog, logger, []int64{adminUserID})

	engine := service.NewEngine(service.EngineOptions{
		Registry:       registry,
		Dispatcher:     dispatcher,
		Allocator:      allocator,
		Composer:       composer,
		Admin:          admin,
		Client:         client,
		Catalog:        catalog,
		Logger:         logger,
		BotUsername:    "anon_relay_bot",
		AlbumLatencyMs: 20,
	})

	return &TestEnvironment{
		t:        t,
		Gateway:  gateway,
		DB:       db,
		Engine:   engine,
		Registry: registry,
		MediaDir: mediaDir,
	}
}
