package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// notifier is the subset of *pq.Listener used to receive change payloads.
type notifier interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// changePayload is the JSON emitted by the collection_notify trigger. The
// trigger sends no record; one is accepted from other publishers.
type changePayload struct {
	Source string          `json:"source"`
	Op     string          `json:"op"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// Listener relays NOTIFY payloads on one channel to a backend's subscribers.
type Listener struct {
	backend      *Backend
	conn         notifier
	channel      string
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewListener opens a dedicated LISTEN connection for dsn.
func NewListener(dsn, channel string, backend *Backend, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("collection listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	return newListener(conn, channel, backend, logger)
}

func newListener(conn notifier, channel string, backend *Backend, logger *zap.Logger) *Listener {
	return &Listener{
		backend:      backend,
		conn:         conn,
		channel:      channel,
		pingInterval: 90 * time.Second,
		logger:       logger,
	}
}

// Run listens until ctx is cancelled, then closes the connection.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.conn.Listen(l.channel); err != nil {
		_ = l.conn.Close()
		return classify(err, "listen "+l.channel)
	}
	l.logger.Info("collection listener started", zap.String("channel", l.channel))
	defer func() {
		_ = l.conn.Close()
		l.logger.Info("collection listener stopped", zap.String("channel", l.channel))
	}()

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	notifications := l.conn.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.conn.Ping(); err != nil {
				l.logger.Warn("collection listener ping failed", zap.Error(err))
			}
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n == nil {
				// Reconnected: notifications sent while down are lost.
				l.logger.Warn("collection listener reconnected", zap.String("channel", l.channel))
				continue
			}
			l.dispatch(ctx, n.Extra)
		}
	}
}

// dispatch publishes one change. Inserts and updates without a record are
// loaded from the table first; a row already gone is skipped because its
// delete notification follows.
func (l *Listener) dispatch(ctx context.Context, payload string) {
	ev, err := decodeChange(payload)
	if err != nil {
		l.logger.Warn("discarding malformed change payload", zap.Error(err))
		return
	}
	if ev.Op != collection.ChangeDelete && ev.Record == nil {
		rec, err := l.backend.Get(ctx, ev.Source, ev.ID)
		switch {
		case appErrors.Is(err, appErrors.ErrNotFound):
			l.logger.Debug("changed row no longer exists", zap.String("source", ev.Source), zap.String("id", ev.ID))
			return
		case err != nil:
			l.logger.Warn("load changed row failed", zap.String("source", ev.Source), zap.String("id", ev.ID), zap.Error(err))
			return
		}
		ev.Record = &rec
	}
	if dropped := l.backend.hub.Publish(ev); dropped > 0 {
		l.logger.Warn("dropped lagging collection subscribers",
			zap.String("source", ev.Source),
			zap.Int("dropped", dropped))
	}
}

func decodeChange(payload string) (collection.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return collection.ChangeEvent{}, err
	}
	ev := collection.ChangeEvent{Source: p.Source, ID: p.ID}
	switch p.Op {
	case "INSERT", "insert":
		ev.Op = collection.ChangeInsert
	case "UPDATE", "update":
		ev.Op = collection.ChangeUpdate
	case "DELETE", "delete":
		ev.Op = collection.ChangeDelete
		return ev, nil
	default:
		return collection.ChangeEvent{}, fmt.Errorf("unknown change op %q", p.Op)
	}
	if len(p.Record) == 0 || string(p.Record) == "null" {
		return ev, nil
	}
	var row map[string]any
	if err := json.Unmarshal(p.Record, &row); err != nil {
		return collection.ChangeEvent{}, err
	}
	for _, name := range []string{columnCreatedAt, columnUpdatedAt} {
		if s, ok := row[name].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				row[name] = ts
			}
		}
	}
	rec := rowToRecord(row, nil)
	if rec.ID == "" {
		rec.ID = p.ID
	}
	ev.Record = &rec
	return ev, nil
}
