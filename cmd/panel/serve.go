package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botpanel-dev/bot-panel-backend/config"
	httpapi "github.com/botpanel-dev/bot-panel-backend/internal/api/http"
	"github.com/botpanel-dev/bot-panel-backend/internal/api/http/middleware"
	"github.com/botpanel-dev/bot-panel-backend/internal/artifacts/store"
	"github.com/botpanel-dev/bot-panel-backend/internal/auth"
	"github.com/botpanel-dev/bot-panel-backend/internal/bootstrap"
	"github.com/botpanel-dev/bot-panel-backend/internal/chatbot"
	"github.com/botpanel-dev/bot-panel-backend/internal/metrics"
	panelhttp "github.com/botpanel-dev/bot-panel-backend/internal/panel/http"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/service"
	"github.com/botpanel-dev/bot-panel-backend/internal/scheduler"
	"github.com/botpanel-dev/bot-panel-backend/internal/sessiongate"
	"github.com/botpanel-dev/bot-panel-backend/internal/storage/postgres"
	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/botpanel-dev/bot-panel-backend/internal/tunnel"
	"github.com/botpanel-dev/bot-panel-backend/internal/users"
	"github.com/spf13/cobra"
)

const serviceName = "bot-panel"

// secretEnv never reaches a supervised child.
var secretEnv = []string{
	"BOT_TOKEN",
	"SESSION_SECRET",
	"DB_DSN",
	"DB_PASSWORD",
	"REDIS_PASSWORD",
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the panel, chat bot and tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(commandContext(cmd), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.SetGinMode(cfg.App.Environment)

	pool, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{
		DSN:      postgres.DSN(&cfg.Database),
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	db := postgres.NewConnection(pool)
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	directory := users.NewRepo(db)

	rdb, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}

	var (
		gate      sessiongate.Gate = sessiongate.NewMemory()
		redisPing httpapi.Pinger
	)
	if rdb != nil {
		defer rdb.Close()
		gate = sessiongate.NewRedis(rdb, cfg.Redis.OTPTTL)
		redisPing = httpapi.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Printf("[info] session gate: redis %s", cfg.Redis.Addr)
	} else {
		log.Println("[info] session gate: in-memory")
	}

	m := metrics.New()

	artifactStore, err := store.New(cfg.Storage.BotsDir(), directory)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		Interpreter: cfg.Runner.Interpreter,
		LogDir:      cfg.Storage.LogsDir(),
		StopTimeout: cfg.Runner.StopTimeout,
		ScrubEnv:    secretEnv,
		Observer:    m,
	})
	if err != nil {
		return err
	}
	m.TrackRunning(sup.Running)

	telegram, err := chatbot.NewTelegram(cfg.Bot.Token)
	if err != nil {
		return err
	}
	publicURL := tunnel.NewPublicURL()
	bot := chatbot.New(chatbot.Config{
		Messenger: telegram,
		Gate:      gate,
		URL:       publicURL,
		AdminID:   cfg.Bot.AdminID,
	})

	svc := service.NewPanelService(service.Deps{
		Directory: directory,
		Gate:      gate,
		Sender:    bot,
		Artifacts: artifactStore,
		Processes: sup,
		Uploads:   directory,
		Metrics:   m,
	})
	panel, err := panelhttp.NewHandler(svc, auth.NewSessions(cfg.Session.Secret, cfg.Session.Lifetime, cfg.Session.Secure))
	if err != nil {
		return err
	}

	limiter := middleware.NewIPRateLimiter(cfg.Server.LoginRatePerMin)

	sched := scheduler.NewScheduler()
	if err := sched.Add("reap", cfg.Runner.ReapEvery, sup.Reap); err != nil {
		return err
	}
	if err := sched.Add("limiter-sweep", "@every 5m", limiter.Sweep); err != nil {
		return err
	}
	sched.Start()

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    serviceName,
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health: httpapi.HealthDeps{
			DB:        pool,
			Redis:     redisPing,
			PublicURL: publicURL.Get,
			Running:   sup.Running,
		},
		Metrics:      m,
		Panel:        panel,
		LoginLimiter: limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go telegram.Listen(ctx, bot.Handle)
	startTunnel(ctx, cfg, publicURL, bot)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[info] %s %s listening on %s", serviceName, cfg.App.Version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("[info] shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[error] shutdown server: %v", err)
	}
	sched.Stop(shutdownCtx)
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Printf("[error] stop bots: %v", err)
	}

	return runErr
}

// startTunnel publishes a static PUBLIC_URL or launches cloudflared in the
// background. Either way the admin hears about the address once.
func startTunnel(ctx context.Context, cfg *config.Config, url *tunnel.PublicURL, bot *chatbot.Bot) {
	if cfg.Tunnel.PublicURL != "" {
		url.Publish(cfg.Tunnel.PublicURL)
		bot.AnnouncePanel(ctx, cfg.Tunnel.PublicURL)
		return
	}
	if !cfg.Tunnel.Enabled {
		log.Println("[info] tunnel disabled and no PUBLIC_URL set; /start will report the panel as starting")
		return
	}

	runner := &tunnel.Runner{
		Binary:    cfg.Tunnel.Binary,
		LocalURL:  "http://127.0.0.1:" + cfg.Server.Port,
		URL:       url,
		OnPublish: bot.AnnouncePanel,
	}
	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Printf("[tunnel] %v", err)
		}
	}()
}
