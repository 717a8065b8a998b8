// Command watch binds a live view of one collection on a prepmint API and
// logs every change to it until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	"github.com/noah-isme/prepmint-api/internal/collection/httpapi"
	"github.com/noah-isme/prepmint-api/pkg/apiclient"
	"github.com/noah-isme/prepmint-api/pkg/config"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	server := flags.String("server", fmt.Sprintf("http://localhost:%d%s", cfg.Port, cfg.APIPrefix), "API base URL")
	token := flags.String("token", os.Getenv("PREPMINT_TOKEN"), "bearer token")
	source := flags.String("source", "", "collection to watch")
	orderBy := flags.String("order-by", collection.DefaultOrderField, "order field")
	order := flags.String("order", string(collection.Asc), "asc or desc")
	pageSize := flags.Int("page-size", cfg.Collections.DefaultPageSize, "records per page")
	pages := flags.Int("pages", 1, "pages to load before watching")
	search := flags.String("search", "", "search term")
	fields := flags.String("fields", "", "comma separated search fields")
	retry := flags.Duration("retry", 2*time.Second, "wait before rebinding after the stream ends")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *source == "" {
		flags.Usage()
		return 2
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	q := collection.Query{
		Source:    *source,
		PageSize:  *pageSize,
		OrderBy:   *orderBy,
		Direction: collection.Direction(*order),
	}
	if *search != "" {
		q = q.WithSearch(*search, splitFields(*fields))
	}
	if err := q.Normalize().Validate(); err != nil {
		logr.Error("invalid query", zap.Error(err))
		return 2
	}

	api := apiclient.New(*server, *token, nil, logr.Named("client"))
	backend := httpapi.New(api, httpapi.WithLogger(logr.Named("backend")))
	if err := backend.LoadCapabilities(ctx, *source); err != nil {
		logr.Error("cannot reach collection", zap.String("source", *source), zap.Error(err))
		return 1
	}

	for {
		err := watch(ctx, backend, q, *pages, logr)
		if ctx.Err() != nil {
			return 0
		}
		if !appErrors.Is(err, appErrors.ErrTransient) {
			logr.Error("watch stopped", zap.String("source", *source), zap.Error(err))
			return 1
		}
		logr.Warn("rebinding collection", zap.String("source", *source), zap.Duration("after", *retry), zap.Error(err))
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(*retry):
		}
	}
}

// watch binds one realtime Store and blocks until ctx ends or the Store
// reports an error, which it returns.
func watch(ctx context.Context, backend *httpapi.Backend, q collection.Query, pages int, logr *zap.Logger) error {
	failed := make(chan error, 1)
	store, err := collection.Bind(backend, q,
		collection.WithRealtime(),
		collection.WithLogger(logr.Named("store")),
		collection.WithListener(func(s collection.State) {
			if s.Loading {
				return
			}
			if s.Error != nil {
				select {
				case failed <- s.Error:
				default:
				}
				return
			}
			logr.Info("collection",
				zap.String("source", q.Source),
				zap.Int("items", len(s.Items)),
				zap.Bool("has_more", s.HasMore))
		}))
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if err := store.Refresh(ctx); err != nil {
		return err
	}
	for i := 1; i < pages && store.State().HasMore; i++ {
		if err := store.LoadMore(ctx); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-failed:
		return err
	}
}

func splitFields(raw string) []string {
	var out []string
	for _, field := range strings.Split(raw, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
