package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"educards-match/internal/app"
	"educards-match/internal/config"
	"educards-match/internal/domain"
	"educards-match/internal/infra/memory"
	natsevents "educards-match/internal/infra/nats"
	"educards-match/internal/infra/postgres"
	redisinfra "educards-match/internal/infra/redis"
	"educards-match/internal/telemetry"
	transport "educards-match/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		loader  memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
		results app.ResultSink
	)
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)

		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		results = postgres.NewResultStore(db)
	case cfg.Quiz.Dir != "":
		loader = memory.NewDirQuizLoader(cfg.Quiz.Dir)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	var publishers app.Publishers
	if redisClient != nil && cfg.Redis.Events {
		publishers = append(publishers, redisinfra.NewEventPublisher(redisClient))
	}
	if cfg.NATS.URL != "" {
		nc, err := natsevents.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		publishers = append(publishers, natsevents.NewEventPublisher(nc))
	}
	var publisher app.EventPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := app.NewRegistry(app.Config{
		Sessions:        store,
		Quizzes:         quizRepo,
		Publisher:       publisher,
		Results:         results,
		Metrics:         telemetry.NewMetrics(promRegistry),
		Options:         cfg.Match.Options(),
		ResultRetention: cfg.Match.Retention(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", transport.NewWSHandler(registry).ServeWS)
	transport.NewAPI(registry).Register(mux)

	// No write timeout: websocket connections are long-lived.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting match service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleQuizzes is served when neither postgres nor a quiz directory is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{ID: "q2", Prompt: "Which planet is closest to the sun?", Options: []string{"Venus", "Mercury", "Mars", "Earth"}, CorrectIndex: 1},
				{ID: "q3", Prompt: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, CorrectIndex: 1},
			},
		},
	}
}

