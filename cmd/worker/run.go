package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Saul-Punybz/feedrelay/internal/config"
	"github.com/Saul-Punybz/feedrelay/internal/db"
	"github.com/Saul-Punybz/feedrelay/internal/feed"
	"github.com/Saul-Punybz/feedrelay/internal/handlers"
	"github.com/Saul-Punybz/feedrelay/internal/keywords"
	"github.com/Saul-Punybz/feedrelay/internal/ledger"
	"github.com/Saul-Punybz/feedrelay/internal/lemmy"
	"github.com/Saul-Punybz/feedrelay/internal/poller"
	"github.com/Saul-Punybz/feedrelay/internal/scheduler"
	"github.com/Saul-Punybz/feedrelay/internal/storage"
)

const archivePrefix = "ledger"

// inputs are the validated startup inputs shared by run and check.
type inputs struct {
	cfg     config.Config
	feeds   []config.FeedConfig
	matcher *keywords.Matcher
	session *lemmy.Session
}

func loadInputs(cmd *cobra.Command) (*inputs, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Lemmy.Validate(); err != nil {
		return nil, err
	}

	feeds, err := config.LoadFeeds(cfg.Bot.FeedsPath)
	if err != nil {
		return nil, err
	}

	matcher := loadKeywords(cfg.Bot)
	if matcher.Empty() {
		slog.Info("worker: no keywords specified, all articles will be considered")
	} else {
		slog.Info("worker: filtering articles with keywords", "keywords", strings.Join(matcher.Terms(), ", "))
	}

	client := lemmy.NewClient(cfg.Lemmy.InstanceURL, nil)
	return &inputs{
		cfg:     cfg,
		feeds:   feeds,
		matcher: matcher,
		session: lemmy.NewSession(client, cfg.Lemmy.Username, cfg.Lemmy.Password),
	}, nil
}

// loadKeywords merges --keywords and --keywords-file. An unreadable file is
// logged and ignored.
func loadKeywords(bot config.BotConfig) *keywords.Matcher {
	terms := keywords.Parse(bot.Keywords)
	if bot.KeywordsFile != "" {
		fromFile, err := keywords.LoadFile(bot.KeywordsFile)
		if err != nil {
			slog.Error("worker: keywords file not loaded", "path", bot.KeywordsFile, "err", err)
		}
		terms = append(terms, fromFile...)
	}
	return keywords.New(terms...)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	in, err := loadInputs(cmd)
	if err != nil {
		return err
	}
	cfg := in.cfg

	slog.Info("worker: starting feedrelay",
		"feeds", len(in.feeds),
		"max_posts", cfg.Bot.MaxPosts,
		"simultaneously", cfg.Bot.Simultaneously,
		"interval", cfg.Bot.Interval,
	)

	journal, closeJournal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	var ledgerOpts []ledger.Option
	storageClient, err := storage.NewClient(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("worker: storage client: %w", err)
	}
	if storageClient.Configured() {
		ledgerOpts = append(ledgerOpts, ledger.WithArchiver(ledger.NewObjectArchive(storageClient, archivePrefix)))
		slog.Info("worker: pruned ledger records will be archived", "bucket", cfg.S3.Bucket)
	}

	store, err := ledger.Open(ctx, journal, ledgerOpts...)
	if err != nil {
		return err
	}

	if err := in.session.Login(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("worker: finishing execution")
			return nil
		}
		return fmt.Errorf("worker: login: %w", err)
	}

	source := feed.NewRetrying(
		feed.NewGofeedSource(feed.NewHTTPClient(), feed.NewHostLimiter(time.Second)),
		feed.DefaultMaxRetries,
		feed.DefaultRetryDelay,
	)

	sched := scheduler.New(scheduler.Deps{
		Resolver:  in.session,
		Publisher: in.session,
		Source:    source,
		Store:     store,
		Matcher:   in.matcher,
	}, scheduler.Options{
		Simultaneous:     cfg.Bot.Simultaneously,
		MaxPostsPerCycle: cfg.Bot.MaxPosts,
		FixedInterval:    cfg.Bot.Interval,
		RandomStart:      true,
	})

	loop := poller.New(in.feeds, sched, store, sched.Pacer())

	if cfg.Server.Addr != "" {
		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: handlers.NewRouter(&handlers.StatusHandler{
				Scheduler: sched,
				Ledger:    store,
				Groups:    loop.Groups(),
			}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("worker: status server starting", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker: status server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("worker: status server shutdown", "err", err)
			}
		}()
	}

	runErr := loop.Run(ctx)

	if store.Pending() > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Flush(flushCtx); err != nil {
			slog.Error("worker: unwritten ledger records", "pending", store.Pending(), "err", err)
		}
		cancel()
	}
	if runErr != nil {
		return runErr
	}

	slog.Info("worker: finishing execution")
	return nil
}

// openJournal selects the PostgreSQL journal when DB_HOST is set and the
// file journal otherwise.
func openJournal(ctx context.Context, cfg config.Config) (ledger.Journal, func(), error) {
	if !cfg.DB.Enabled() {
		slog.Info("worker: using file ledger", "path", cfg.Bot.LedgerPath)
		return ledger.NewFileJournal(cfg.Bot.LedgerPath), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("worker: database: %w", err)
	}
	slog.Info("worker: using postgres ledger", "host", cfg.DB.Host, "db", cfg.DB.DBName)
	return ledger.NewPostgresJournal(pool), pool.Close, nil
}
