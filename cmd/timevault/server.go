package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Custodia-Systems/timevault/pkg/api"
	"github.com/Custodia-Systems/timevault/pkg/archive"
	"github.com/Custodia-Systems/timevault/pkg/auth"
	"github.com/Custodia-Systems/timevault/pkg/config"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/directory"
	"github.com/Custodia-Systems/timevault/pkg/events"
	"github.com/Custodia-Systems/timevault/pkg/guard"
	"github.com/Custodia-Systems/timevault/pkg/observability"
	"github.com/Custodia-Systems/timevault/pkg/ratelimit"
	"github.com/Custodia-Systems/timevault/pkg/scheduler"
	"github.com/Custodia-Systems/timevault/pkg/store"
	"github.com/Custodia-Systems/timevault/pkg/treasury"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

//nolint:gocognit // wiring is linear, splitting it would just scatter the order
func runServer() {
	fmt.Fprintf(os.Stdout, "%sTimevault starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Database: Postgres when DATABASE_URL is set, embedded SQLite otherwise.
	db, liteMode, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	journals, err := store.NewJournalStore(db)
	if err != nil {
		log.Fatalf("Failed to init journal store: %v", err)
	}
	logger.Info("journal store ready", "lite_mode", liteMode)

	// Treasury: shared Postgres book in production, seeded in-memory
	// vault in lite mode.
	vault, err := openTreasury(ctx, db, liteMode, logger)
	if err != nil {
		log.Fatalf("Failed to init treasury: %v", err)
	}

	// Operating profile: scheduling windows plus starting guard rules.
	profile, err := loadProfile(cfg)
	if err != nil {
		log.Fatalf("Failed to load profile %q: %v", cfg.Profile, err)
	}
	schedCfg := profile.SchedulerConfig()
	logger.Info("profile active",
		"code", profile.Code,
		"min_delay", schedCfg.MinDelay,
		"max_delay", schedCfg.MaxDelay,
		"grace_period", schedCfg.GracePeriod,
	)

	releaseGuard, err := guard.New(profile.GuardRules...)
	if err != nil {
		log.Fatalf("Failed to compile guard rules: %v", err)
	}

	// Optional JSON-lines event mirror, one shared sink so writes from
	// different instances never interleave.
	var eventMirror contracts.EventSink
	if cfg.EventLogPath != "" {
		f, err := os.OpenFile(cfg.EventLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			log.Fatalf("Failed to open event log %s: %v", cfg.EventLogPath, err)
		}
		defer func() { _ = f.Close() }()
		eventMirror = events.WriterSink(f)
		logger.Info("event mirror active", "path", cfg.EventLogPath)
	}

	// Every new instance gets the profile windows, the release guard, a
	// log sink, the optional event mirror, and durable journal
	// persistence.
	dir := directory.New(func(id string, owner contracts.Identity, description string) *scheduler.Timelock {
		tl := scheduler.New(id, owner, description, schedCfg, vault).
			WithGuard(releaseGuard).
			WithLogger(logger.With("instance", id))
		tl.Journal().Attach(events.LogSink(logger))
		if eventMirror != nil {
			tl.Journal().Attach(eventMirror)
		}
		tl.Journal().Observe(journals.Observer(id, logger))
		return tl
	})

	// Auth: a persistent root seed so tokens survive restarts and the
	// `timevault token` command can sign against the same key.
	keySet, err := loadOrGenerateKeySet(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to init key set: %v", err)
	}
	validator := auth.NewJWTValidator(keySet)

	operator := contracts.Identity(os.Getenv("TIMEVAULT_OPERATOR"))
	if operator.Zero() {
		operator = "operator"
	}
	bootToken, err := keySet.Sign(ctx, auth.VaultClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(operator),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
		Roles: []string{"operator"},
	})
	if err != nil {
		log.Fatalf("Failed to sign boot token: %v", err)
	}
	fmt.Fprintf(os.Stdout, "🔑 Operator token (%s, 24h): %s%s%s\n", operator, ColorBold+ColorGreen, bootToken, ColorReset)

	// A default instance owned by the operator so the API is usable
	// without a create call first.
	seed, err := dir.Create(operator, operator, "default vault")
	if err != nil {
		log.Fatalf("Failed to create default instance: %v", err)
	}
	if err := journals.SaveInstance(ctx, seed); err != nil {
		logger.Warn("default instance record persistence failed", "error", err)
	}
	logger.Info("default instance ready", "instance", seed.ID, "owner", seed.Owner, "custodian", seed.Custodian)

	// Archive store for journal exports (fs default, s3/gcs via env).
	blobs, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to init archive store: %v", err)
	}

	// Telemetry is opt-in: no OTLP endpoint means an inert provider.
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "timevault",
		ServiceVersion: version,
		Environment:    envName(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}

	idem, err := api.NewSQLIdempotencyStore(db, 24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to init idempotency store: %v", err)
	}

	server := api.NewServer(dir).
		WithJournalStore(journals).
		WithArchive(blobs).
		WithObservability(obs).
		WithLogger(logger).
		WithVersion(version).
		WithDefaultInstance(seed.ID)

	handler := server.Handler(api.Chain{
		Validator:   validator,
		PerIP:       api.NewGlobalRateLimiter(50, 100),
		Idempotency: idem,
		ActorLimits: actorLimitStore(cfg, logger),
		ActorPolicy: ratelimit.Policy{RPM: 240, Burst: 40},
		CORSOrigins: corsOrigins(),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("timevault listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("[timevault] ready: http://localhost:%s", cfg.Port)
	log.Println("[timevault] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[timevault] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envName() string {
	if env := os.Getenv("TIMEVAULT_ENV"); env != "" {
		return env
	}
	return "development"
}

// openDatabase connects to Postgres when DATABASE_URL is set and falls
// back to an embedded SQLite file otherwise. The second return reports
// lite mode.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, bool, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, false, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, false, fmt.Errorf("ping postgres: %w", err)
		}
		log.Println("[timevault] postgres: connected")
		return db, false, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, false, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "timevault.db")
	fmt.Fprintf(os.Stdout, "ℹ️  DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite at %s).\n", ColorBold+ColorCyan, ColorReset, dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, false, fmt.Errorf("open sqlite: %w", err)
	}
	return db, true, nil
}

// openTreasury returns the value-transfer substrate: the shared Postgres
// book in production, an in-memory vault seeded from TIMEVAULT_SEED in
// lite mode.
func openTreasury(ctx context.Context, db *sql.DB, liteMode bool, logger *slog.Logger) (treasury.Transferer, error) {
	if !liteMode {
		pv := treasury.NewPostgresVault(db)
		if err := pv.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres vault: %w", err)
		}
		log.Println("[timevault] treasury: postgres")
		return pv, nil
	}

	vault := treasury.NewVault()
	for _, grant := range strings.Split(os.Getenv("TIMEVAULT_SEED"), ",") {
		grant = strings.TrimSpace(grant)
		if grant == "" {
			continue
		}
		parts := strings.SplitN(grant, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad TIMEVAULT_SEED entry %q (want id=amount)", grant)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("bad TIMEVAULT_SEED amount in %q", grant)
		}
		id := contracts.Identity(strings.TrimSpace(parts[0]))
		vault.Mint(id, amount)
		logger.Info("treasury seeded", "account", id, "amount", amount)
	}
	log.Println("[timevault] treasury: in-memory (lite mode)")
	return vault, nil
}

// loadProfile resolves the active operating profile. Without a profile
// directory the built-in standard preset applies.
func loadProfile(cfg *config.Config) (*config.Profile, error) {
	if cfg.ProfileDir == "" {
		if cfg.Profile != "" && cfg.Profile != "standard" {
			return nil, fmt.Errorf("profile %q requested but TIMEVAULT_PROFILE_DIR is not set", cfg.Profile)
		}
		return config.DefaultProfile(), nil
	}
	return config.LoadProfile(cfg.ProfileDir, cfg.Profile)
}

// rootKeyFile is the Ed25519 seed backing token signing, relative to the
// data dir.
const rootKeyFile = "root.key"

// loadOrGenerateKeySet loads the persistent signing seed, generating one
// on first boot. Production requires the file to exist already.
func loadOrGenerateKeySet(dataDir string) (*auth.InMemoryKeySet, error) {
	keyPath := filepath.Join(dataDir, rootKeyFile)

	if raw, err := os.ReadFile(keyPath); err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s format: %w", keyPath, err)
		}
		log.Printf("[timevault] auth: loaded persistent root key")
		return auth.NewKeySetFromSeed(seed)
	}

	if os.Getenv("TIMEVAULT_PRODUCTION") == "1" {
		return nil, fmt.Errorf("production mode requires %s to exist", keyPath)
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	log.Printf("[timevault] auth: generating new persistent root key at %s", keyPath)
	fmt.Fprintf(os.Stdout, "\n%s⚠️  SECURITY WARNING: Using auto-generated root key.%s\n", ColorBold+ColorYellow, ColorReset)
	fmt.Fprintf(os.Stdout, "   Key saved to: %s\n", keyPath)
	fmt.Fprintf(os.Stdout, "   In production, provision the key from a secret manager.\n\n")

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(seed)), 0600); err != nil {
		return nil, fmt.Errorf("save %s: %w", keyPath, err)
	}
	return auth.NewKeySetFromSeed(seed)
}

// actorLimitStore picks the per-identity rate limit backend: Redis when
// configured so replicas share one budget, in-process memory otherwise.
// REDIS_URL takes a redis:// URL or a bare host:port.
func actorLimitStore(cfg *config.Config, logger *slog.Logger) ratelimit.Store {
	if cfg.RedisURL == "" {
		return ratelimit.NewInMemoryStore()
	}
	logger.Info("rate limiting via redis")
	if store, err := ratelimit.NewRedisStoreFromURL(cfg.RedisURL); err == nil {
		return store
	}
	return ratelimit.NewRedisStore(cfg.RedisURL, os.Getenv("REDIS_PASSWORD"), 0)
}

func corsOrigins() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
