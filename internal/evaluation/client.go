package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/pkg/apiclient"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// HTTPClient talks to the prepmint API. It implements Intake and Awarder.
type HTTPClient struct {
	api *apiclient.Client
}

// NewHTTPClient creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api/v1".
func NewHTTPClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{api: apiclient.New(baseURL, token, httpClient, logger)}
}

// Submit posts the file as multipart form data and returns the job id.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.File.Open == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file content is not available")
	}
	content, err := sub.File.Open()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cannot read file")
	}
	defer content.Close() //nolint:errcheck

	body, contentType, err := encodeSubmission(sub, content)
	if err != nil {
		return "", err
	}
	req, err := c.api.NewRequest(ctx, http.MethodPost, "/evaluations", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.api.Do(req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", appErrors.Clone(appErrors.ErrTransient, "intake response is missing jobId")
	}
	return out.JobID, nil
}

// Status fetches the current job status.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	if err := c.api.JSON(ctx, http.MethodGet, "/evaluations/jobs/"+url.PathEscape(jobID), nil, &status); err != nil {
		return JobStatus{}, err
	}
	if !status.Status.Valid() {
		return JobStatus{}, appErrors.Clone(appErrors.ErrTransient, fmt.Sprintf("unknown job status %q", status.Status))
	}
	return status, nil
}

// AwardPoints adds amount points to userID's profile.
func (c *HTTPClient) AwardPoints(ctx context.Context, userID string, amount int, reason, jobID string) error {
	payload := map[string]any{"amount": amount, "reason": reason, "jobId": jobID}
	return c.api.JSON(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/points", payload, nil)
}

func encodeSubmission(sub Submission, content io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("userId", sub.UserID); err != nil {
		return nil, "", err
	}
	if sub.TestID != "" {
		if err := writer.WriteField("testId", sub.TestID); err != nil {
			return nil, "", err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, sub.File.Name))
	header.Set("Content-Type", sub.File.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cannot read file")
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
