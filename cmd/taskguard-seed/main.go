package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/config"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/storage/postgres"
	"github.com/platinummonkey/taskguard/pkg/tasks"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	fixturesFile := flag.String("fixtures", "", "Path to a fixtures file (defaults to the built-in set)")
	watch := flag.Bool("watch", false, "Re-apply fixtures whenever the fixtures file changes")
	migrate := flag.Bool("migrate", true, "Apply the schema before seeding")
	printTokens := flag.Bool("tokens", true, "Print a development token for every seeded user")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *configFile != "" {
		os.Setenv("TASKGUARD_CONFIG_FILE", *configFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *watch && *fixturesFile == "" {
		log.Fatal("-watch requires -fixtures")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		fixtures: *fixturesFile,
		watch:    *watch,
		migrate:  *migrate,
		tokens:   *printTokens,
	}); err != nil {
		log.WithError(err).Fatal("seeding failed")
	}
}

type options struct {
	fixtures string
	watch    bool
	migrate  bool
	tokens   bool
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts options) error {
	cm, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer cm.Close()
	db := cm.Primary()

	if opts.migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		log.Debug("schema applied")
	}

	seeder := NewSeeder(
		orgs.NewPostgresStore(db),
		auth.NewPostgresUserStore(db),
		tasks.NewPostgresStore(db),
		auth.HashPassword,
		log,
	)

	apply := func() error {
		fx, err := LoadFixtures(opts.fixtures)
		if err != nil {
			return err
		}
		result, err := seeder.Apply(ctx, fx)
		if err != nil {
			return err
		}
		if opts.tokens {
			printDevTokens(cfg.Auth, result.SeededUsers, log)
		}
		return nil
	}

	if err := apply(); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}
	return watchFixtures(ctx, opts.fixtures, apply, log)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*postgres.ConnectionManager, error) {
	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.URL,
		MaxConns:    4,
		MinConns:    1,
		Timeout:     cfg.ConnectTimeout,
		MaxLifetime: cfg.ConnMaxLifetime,
		MaxIdleTime: cfg.ConnMaxIdleTime,
	}, observability.NewNopLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cm, nil
}

func printDevTokens(cfg config.AuthConfig, users []*auth.User, log *logrus.Logger) {
	if cfg.JWTSecret == "" {
		log.Warn("no jwt secret configured, skipping development tokens")
		return
	}
	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Warn("failed to create token issuer")
		return
	}
	for _, u := range users {
		token, err := issuer.Issue(u)
		if err != nil {
			log.WithError(err).WithField("email", u.Email).Warn("failed to issue token")
			continue
		}
		fmt.Printf("%-8s %-28s %s\n", u.Role, u.Email, token)
	}
}

// watchFixtures re-applies on every write to path until ctx is done.
// Editors that replace the file emit Create, so the directory is watched.
func watchFixtures(ctx context.Context, path string, apply func() error, log *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.WithField("file", abs).Info("watching fixtures for changes")

	// Saves often arrive as several events; collapse them.
	const settle = 250 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.WithField("op", event.Op.String()).Debug("fixtures changed")
				pending = time.After(settle)
			}
		case <-pending:
			pending = nil
			if err := apply(); err != nil {
				log.WithError(err).Error("failed to re-apply fixtures")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}
