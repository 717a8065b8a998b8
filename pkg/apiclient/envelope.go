package apiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/noah-isme/prepmint-api/internal/models"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// maxErrorBody bounds how much of a non-JSON error body is echoed back.
const maxErrorBody = 512

type rawEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
	Message    string                 `json:"message"`
}

// Listing receives the pagination and meta members of list responses.
type Listing struct {
	Pagination models.Pagination
	Meta       map[string]interface{}
}

// Decode reads a {data, error, pagination, meta} envelope. On success the
// data member is unmarshalled into data (which may be nil) and listing,
// when non-nil, receives pagination and meta; on failure the server's
// error is returned as an *errors.Error carrying its status.
func Decode(resp *http.Response, data interface{}, listing *Listing) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "read response body")
	}
	if len(body) == 0 && resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	var env rawEnvelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		if decodeErr == nil && env.Error != nil {
			out := *env.Error
			if out.Status == 0 {
				out.Status = resp.StatusCode
			}
			return &out
		}
		message := env.Message
		if decodeErr != nil || message == "" {
			message = truncate(string(body))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return appErrors.New(statusCode(resp.StatusCode), resp.StatusCode, message)
	}
	if decodeErr != nil {
		return appErrors.Wrap(decodeErr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "malformed response body")
	}
	if listing != nil {
		if env.Pagination != nil {
			listing.Pagination = *env.Pagination
		}
		listing.Meta = env.Meta
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, fmt.Sprintf("decode %T", data))
	}
	return nil
}

func statusCode(status int) string {
	switch {
	case status == http.StatusNotFound:
		return appErrors.ErrNotFound.Code
	case status == http.StatusUnauthorized:
		return appErrors.ErrUnauthorized.Code
	case status == http.StatusForbidden:
		return appErrors.ErrForbidden.Code
	case status == http.StatusConflict:
		return appErrors.ErrConflict.Code
	case status >= http.StatusInternalServerError:
		return appErrors.ErrTransient.Code
	}
	return appErrors.ErrValidation.Code
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
