package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sheet = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestRunRequiresFileAndUser(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-user", "u1"}))
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestRunReturnsFailureCodes(t *testing.T) {
	assert.Equal(t, 1, run([]string{"-user", "u1", "-file", filepath.Join(t.TempDir(), "missing.pdf")}))
	assert.Equal(t, 1, run([]string{"-user", "u1", "-file", writeFile(t, "notes.txt", []byte("plain text"))}))
}

func TestRunFollowsJobToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/evaluations":
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"data":{"jobId":"job-7"}}`)
		case "/api/v1/evaluations/jobs/job-7":
			_, _ = io.WriteString(w, `{"data":{"status":"done","progress":100,"result":{"score":80}}}`)
		case "/api/v1/users/u1/points":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"data":{"xp":50,"level":1}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	code := run([]string{
		"-server", srv.URL + "/api/v1",
		"-token", "tok",
		"-file", writeFile(t, "answers.pdf", sheet),
		"-user", "u1",
		"-interval", "10ms",
		"-timeout", "5s",
	})
	assert.Equal(t, 0, code)
}
