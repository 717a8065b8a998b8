// Package apiclient calls the prepmint API and unwraps its response
// envelope. Both the evaluation workflow and the HTTP collection backend
// are built on it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// DefaultTimeout bounds ordinary requests. Event streams are exempt.
const DefaultTimeout = 60 * time.Second

// Client sends authenticated requests to one API root.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	logger  *zap.Logger
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api/v1".
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		stream:  &http.Client{Transport: httpClient.Transport, Jar: httpClient.Jar},
		logger:  logger,
	}
}

// NewRequest builds a request for path relative to the API root.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "invalid request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Do sends req and decodes the envelope's data into out.
func (c *Client) Do(req *http.Request, out interface{}) error {
	return c.DoPage(req, out, nil)
}

// DoPage is Do for list endpoints; listing receives the envelope's
// pagination and meta members.
func (c *Client) DoPage(req *http.Request, out interface{}, listing *Listing) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(req, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := Decode(resp, out, listing); err != nil {
		c.logger.Debug("api call failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return err
	}
	return nil
}

// JSON sends payload (when non-nil) as a JSON body and decodes the reply into out.
func (c *Client) JSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req, out)
}

// Stream opens a server-sent event stream. The caller closes the body;
// cancelling ctx ends the stream.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, c.transportError(req, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		if err := Decode(resp, nil, nil); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrTransient, "unexpected stream status "+resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) transportError(req *http.Request, err error) error {
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return ctxErr
	}
	return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "request failed")
}
