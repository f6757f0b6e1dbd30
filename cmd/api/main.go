package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/audit"
	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/imaging"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/session"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

// identityStore is what the API needs from either storage backend.
type identityStore interface {
	biometric.IdentityStore
	handlers.IdentityReader
	handlers.EventLister
	audit.Sink
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("facegate api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting facegate API",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"tolerance", cfg.Auth.MatchTolerance(),
	)

	// ONNX Runtime backs the face extractor
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	defer ort.DestroyEnvironment()

	extractor, err := vision.NewExtractor(cfg.Vision)
	if err != nil {
		return fmt.Errorf("init face extractor: %w", err)
	}
	defer extractor.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := []handlers.Check{{Name: "database", Ping: store.Ping}}

	sessions, err := newSessionManager(ctx, cfg, &checks)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	routerCfg := api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Service: biometric.NewService(store, extractor, biometric.Options{
			Tolerance:                   cfg.Auth.MatchTolerance(),
			RejectMultipleFacesOnVerify: cfg.Auth.RejectMultipleFaces(),
		}),
		Identities: store,
		Events:     store,
		Normalizer: &imaging.Normalizer{
			ScratchDir:   cfg.Vision.ScratchDir,
			MaxBytes:     cfg.Server.MaxUploadBytes,
			MaxDimension: cfg.Vision.MaxImageDimension,
			MaxPixels:    cfg.Vision.MaxImagePixels,
		},
		Sessions: sessions,
		Hub:      hub,
	}

	// Capture archive (optional)
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect to minio: %w", err)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		if cfg.Auth.ArchiveCaptures {
			routerCfg.Archive = minioStore
		}
		routerCfg.Captures = minioStore
		checks = append(checks, handlers.Check{Name: "minio", Ping: minioStore.Ping})
	}

	// Auth events go through NATS when configured, otherwise straight to the store
	if cfg.NATS.URL != "" {
		producer, consumer, err := openEventBus(ctx, cfg.NATS.URL, hub)
		if err != nil {
			return err
		}
		defer producer.Close()
		defer consumer.Close()

		routerCfg.Publisher = producer
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})
	} else {
		slog.Info("nats disabled, auth events are stored synchronously")
		routerCfg.Publisher = audit.Multi{audit.Direct{Sink: store}, hub}
	}
	routerCfg.Checks = checks

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server listening", "addr", srv.Addr)
	if err := serveHTTPServer(srv, 10*time.Second); err != nil {
		return fmt.Errorf("serve http: %w", err)
	}

	slog.Info("API server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (identityStore, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Warn("using in-memory identity store, enrollments are lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, cfg.Vision.EmbeddingDim); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, db.Close, nil
}

func newSessionManager(ctx context.Context, cfg *config.Config, checks *[]handlers.Check) (*session.Manager, error) {
	var store session.Store = session.NewMemoryStore()

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		store = session.NewRedisStore(client)
		*checks = append(*checks, handlers.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	m := session.NewManager(store, cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	m.SecureCookies(cfg.Auth.SecureCookies)
	return m, nil
}

// openEventBus connects the auth event producer and feeds published events to the hub.
func openEventBus(ctx context.Context, url string, hub *ws.Hub) (*queue.Producer, *queue.Consumer, error) {
	producer, err := queue.NewProducer(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(url)
	if err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("create event consumer: %w", err)
	}

	err = consumer.WatchAuthEvents(ctx, func(ctx context.Context, msg jetstream.Msg) error {
		ev, err := queue.DecodeAuthEvent(msg.Data())
		if err != nil {
			slog.Warn("drop undecodable auth event", "error", err)
			return nil
		}
		return hub.PublishAuthEvent(ctx, ev)
	})
	if err != nil {
		slog.Warn("start websocket event feed", "error", err)
	}
	return producer, consumer, nil
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
