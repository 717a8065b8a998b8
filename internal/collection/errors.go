package collection

import (
	"context"
	"errors"
	"net/http"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// ErrStoreClosed is returned by operations on an unbound Store.
var ErrStoreClosed = appErrors.New("STORE_CLOSED", http.StatusConflict, "collection store is unbound")

// classify keeps typed errors and treats everything else as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
}
