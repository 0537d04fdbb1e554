package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/config"
	"github.com/mmverma/dmchat/backend/internal/messages"
	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/profile"
	"github.com/mmverma/dmchat/backend/internal/relay"
	"github.com/mmverma/dmchat/backend/internal/storage"
	"github.com/mmverma/dmchat/backend/internal/storage/postgres"
	"github.com/mmverma/dmchat/backend/internal/storage/sqlite"
	"github.com/mmverma/dmchat/backend/internal/users"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "err", err)
	}
	cfg := config.MustLoad()

	var (
		db       *sql.DB
		migrator func(string) error
		schema   string
	)
	switch cfg.DBDriver {
	case "postgres":
		conn, err := postgres.New(cfg.DBDsn)
		if err != nil {
			log.Fatalf("Error connecting to database: %v", err)
		}
		db = conn.Db
		migrator = conn.Migrate
		schema = "sql/schema_postgres.sql"
	default:
		conn, err := sqlite.New(cfg.DBDsn)
		if err != nil {
			log.Fatalf("Error connecting to database: %v", err)
		}
		db = conn.Db
		migrator = conn.Migrate
		schema = "sql/schema.sql"
	}
	defer db.Close()

	if *migrate {
		if err := migrator(schema); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		slog.Info("migration completed")
		return
	}

	store := storage.New(db, cfg.DBDriver)
	dir := presence.NewDirectory()
	hub := relay.NewHub(store, dir)

	r := gin.Default()
	api := r.Group("/api")
	users.RegisterPublic(api.Group("/auth"), store, cfg)

	protected := api.Group("", auth.JWTMiddleware(cfg.JWTSecret))
	users.Register(protected, store, dir)
	profile.Register(protected, store)
	messages.Register(protected, store, hub, dir)

	relay.RegisterWS(r.Group(""), hub, cfg.JWTSecret)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("dmchat listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("shutdown complete")
}
