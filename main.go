package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/cache"
	"github.com/Amund211/chessoverlay/internal/adapters/chesscom"
	"github.com/Amund211/chessoverlay/internal/adapters/database"
	"github.com/Amund211/chessoverlay/internal/adapters/lichess"
	"github.com/Amund211/chessoverlay/internal/adapters/staterepository"
	"github.com/Amund211/chessoverlay/internal/adapters/twitchchat"
	"github.com/Amund211/chessoverlay/internal/app"
	"github.com/Amund211/chessoverlay/internal/config"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/ports"
	"github.com/Amund211/chessoverlay/internal/ratelimiting"
	"github.com/Amund211/chessoverlay/internal/reporting"
	"github.com/Amund211/chessoverlay/internal/telemetry"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With("instanceID", instanceID)
	logging.SetFallback(logger)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadedDotEnv, err := config.LoadDotEnv(".env")
	if err != nil {
		fail("Failed to load .env", "error", err.Error())
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString(), "dotenv", loadedDotEnv)

	if config.OTelEnabled() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "chessoverlay", instanceID)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	logger.Info("Initializing database connection")
	var db *sqlx.DB
	if config.DatabaseURL() != "" {
		db, err = database.NewPostgresDatabase(config.DatabaseURL())
	} else {
		db, err = database.NewSQLiteDatabase(config.SQLitePath())
	}
	if err != nil {
		fail("Failed to initialize database", "error", err.Error())
	}
	defer db.Close()
	logger.Info("Initialized database connection", "driver", db.DriverName())

	repositorySchemaName := database.GetSchemaName(!config.IsProduction())

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, repositorySchemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	stateRepo := staterepository.NewSQLStateRepository(db, repositorySchemaName, time.Now)
	logger.Info("Initialized StateRepository")

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	lichessClient, err := lichess.NewLichess(httpClient, time.Now)
	if err != nil {
		fail("Failed to initialize Lichess client", "error", err.Error())
	}
	chesscomClient, err := chesscom.NewChessCom(httpClient, time.Now, time.After)
	if err != nil {
		fail("Failed to initialize Chess.com client", "error", err.Error())
	}

	tournamentDetailCache := cache.NewTTLCache[domain.TournamentDetail](1 * time.Minute)

	detectActiveTournament := app.BuildDetectActiveTournament(lichessClient, chesscomClient, tournamentDetailCache, time.After)
	fetchStanding := app.BuildFetchStanding(lichessClient, chesscomClient)
	refreshStats := app.BuildRefreshStats(
		map[domain.Platform]app.GameSource{
			domain.PlatformLichess:  lichessClient,
			domain.PlatformChessCom: chesscomClient,
		},
		detectActiveTournament,
		fetchStanding,
		time.Now,
	)

	defaultConfig := domain.WidgetConfig{
		Platform:       domain.Platform(config.DefaultPlatform()),
		Username:       config.DefaultUsername(),
		RatingCategory: domain.RatingCategory(config.DefaultRatingCategory()),
	}
	session := app.NewSession(
		refreshStats,
		stateRepo,
		config.Location(),
		defaultConfig,
		time.Now,
		time.After,
		app.DefaultSessionTimings(),
	)

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedOriginSuffixes()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	hub := ports.NewSnapshotHub(allowedOrigins, session.Snapshot, logger.With("component", "hub"))
	go hub.Run()
	defer hub.Stop()
	unsubscribe := session.Subscribe(func(snapshot domain.Snapshot) {
		hub.Broadcast(snapshot)
	})
	defer unsubscribe()

	sessionCtx := logging.AddToContext(reporting.NewBackgroundContext(ctx, "session"), logger.With("component", "session"))
	if err := session.Start(sessionCtx); err != nil {
		// A failed first refresh is shown on the overlay, anything else is fatal
		if session.Snapshot().Status != domain.SessionError {
			fail("Failed to start session", "error", err.Error())
		}
		logger.Warn("Initial refresh failed", "error", err.Error())
	}
	defer session.Close()

	mux := http.NewServeMux()
	stopRateLimiter := ports.RegisterOverlayRoutes(
		mux,
		session,
		hub,
		allowedOrigins,
		logger.With("component", "ports"),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("overlay"),
	)
	defer stopRateLimiter()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Init complete", "addr", server.Addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server shutdown")
		return nil
	})

	if channel := config.TwitchChannel(); channel != "" {
		chatLimiter, stopChatLimiter := ratelimiting.NewTokenBucketRateLimiter(
			ratelimiting.RefillEvery(5*time.Second),
			ratelimiting.BurstSize(1),
			time.Now,
		)
		defer stopChatLimiter()

		handleChatMessage, err := app.BuildHandleChatMessage(session, chatLimiter)
		if err != nil {
			fail("Failed to initialize chat commands", "error", err.Error())
		}
		chatClient, err := twitchchat.NewClient(twitchchat.DEFAULT_URL, time.After)
		if err != nil {
			fail("Failed to initialize Twitch chat client", "error", err.Error())
		}

		chatCtx := logging.AddToContext(reporting.NewBackgroundContext(gCtx, "twitchchat"), logger.With("component", "twitchchat", "channel", channel))
		g.Go(func() error {
			err := chatClient.Run(chatCtx, channel, handleChatMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("twitch chat: %w", err)
			}
			return nil
		})
		logger.Info("Listening for chat commands", "channel", channel)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Shutting down", "error", err.Error())
	}
}
