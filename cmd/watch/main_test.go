package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/stretchr/testify/assert"
)

const usersPage = `{"data":{"items":[{"id":"u1","fields":{"name":"Ann"},"createdAt":"2024-01-01T00:00:00Z"}]},` +
	`"pagination":{"page_size":20,"has_more":false},"meta":{"search_mode":"substring"}}`

func TestRunRequiresSource(t *testing.T) {
	assert.Equal(t, 2, run(context.Background(), []string{"-order", "asc"}))
	assert.Equal(t, 2, run(context.Background(), []string{"-no-such-flag"}))
}

func TestRunFailsWhenCollectionIsForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":"FORBIDDEN","message":"no access"}}`)
	}))
	defer srv.Close()

	assert.Equal(t, 1, run(context.Background(), []string{"-server", srv.URL + "/api/v1", "-source", "users"}))
}

func TestRunRebindsWhenStreamEnds(t *testing.T) {
	var streams atomic.Int32
	rebound := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections/users":
			_, _ = io.WriteString(w, usersPage)
		case "/api/v1/collections/users/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			n := streams.Add(1)
			if n == 1 {
				assert.NoError(t, sse.Encode(w, sse.Event{
					Event: "change",
					Data:  `{"op":"insert","id":"u2","record":{"id":"u2","fields":{"name":"Bo"},"createdAt":"2024-01-02T00:00:00Z"}}`,
				}))
				w.(http.Flusher).Flush()
				return
			}
			if n == 2 {
				close(rebound)
			}
			<-r.Context().Done()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"-server", srv.URL + "/api/v1", "-source", "users", "-retry", "10ms"})
	}()

	select {
	case <-rebound:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not rebind after the stream ended")
	}
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
