package evaluation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

func TestHTTPClientSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/evaluations", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "u1", r.FormValue("userId"))
		assert.Equal(t, "t9", r.FormValue("testId"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "answers.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.4", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"jobId":"job-42"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/api/v1/", "token-1", srv.Client(), nil)
	jobID, err := client.Submit(context.Background(), Submission{File: pdf(8), UserID: "u1", TestID: "t9"})
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
}

func TestHTTPClientSubmitErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_ERROR","message":"file content does not match application/pdf","status":400}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client(), nil)
	_, err := client.Submit(context.Background(), Submission{File: pdf(8), UserID: "u1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "file content does not match application/pdf", surfaceMessage(err))
}

func TestHTTPClientBareMessageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"test is closed"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client(), nil)
	_, err := client.Submit(context.Background(), Submission{File: pdf(8), UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, "test is closed", surfaceMessage(err))
}

func TestHTTPClientStatusAndAward(t *testing.T) {
	var award map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/evaluations/jobs/job-1":
			_, _ = w.Write([]byte(`{"data":{"status":"processing","progress":40}}`))
		case "/evaluations/jobs/job-2":
			_, _ = w.Write([]byte(`{"data":{"status":"exploded"}}`))
		case "/users/u1/points":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&award))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"xp":50,"level":1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"job not found","status":404}}`))
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client(), nil)
	status, err := client.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, status.Status)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 40, *status.Progress)

	_, err = client.Status(context.Background(), "job-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrTransient))

	_, err = client.Status(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, client.AwardPoints(context.Background(), "u1", 50, ReasonCompleted, "job-1"))
	assert.Equal(t, float64(50), award["amount"])
	assert.Equal(t, ReasonCompleted, award["reason"])
	assert.Equal(t, "job-1", award["jobId"])
}
