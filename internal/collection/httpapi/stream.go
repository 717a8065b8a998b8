package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-contrib/sse"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	"github.com/noah-isme/prepmint-api/internal/dto"
)

// Subscribe opens GET /collections/:source/stream. The call returns once the
// server has accepted the stream; the subscription ends when the server
// closes it, ctx ends or Close is called.
func (b *Backend) Subscribe(ctx context.Context, source string) (collection.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	body, err := b.api.Stream(ctx, sourcePath(source)+"/stream")
	if err != nil {
		cancel()
		return nil, err
	}
	sub := &streamSubscription{
		events: make(chan collection.ChangeEvent, collection.HubBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.read(ctx, body, source, b.logger)
	return sub, nil
}

type streamSubscription struct {
	events chan collection.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *streamSubscription) Events() <-chan collection.ChangeEvent {
	return s.events
}

// Close stops the stream and waits for the reader to exit.
func (s *streamSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *streamSubscription) read(ctx context.Context, body io.ReadCloser, source string, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.events)
	defer body.Close() //nolint:errcheck

	reader := bufio.NewReader(body)
	var block bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Warn("collection stream failed", zap.String("source", source), zap.Error(err))
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			block.WriteString(line)
			block.WriteByte('\n')
			continue
		}
		if block.Len() == 0 {
			continue
		}
		block.WriteByte('\n')
		events, err := sse.Decode(&block)
		block.Reset()
		if err != nil {
			logger.Warn("discarding malformed stream event", zap.String("source", source), zap.Error(err))
			continue
		}
		for _, event := range events {
			ev, ok := decodeEvent(event, source, logger)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decodeEvent reads one change written by the collection stream handler.
func decodeEvent(event sse.Event, source string, logger *zap.Logger) (collection.ChangeEvent, bool) {
	data, ok := event.Data.(string)
	if !ok || data == "" {
		return collection.ChangeEvent{}, false
	}
	var change dto.CollectionChange
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		logger.Warn("discarding malformed stream event", zap.String("source", source), zap.Error(err))
		return collection.ChangeEvent{}, false
	}
	switch change.Op {
	case collection.ChangeInsert, collection.ChangeUpdate, collection.ChangeDelete:
	default:
		return collection.ChangeEvent{}, false
	}
	return collection.ChangeEvent{Op: change.Op, Source: source, ID: change.ID, Record: change.Record}, true
}
