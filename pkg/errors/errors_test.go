package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromCodeKeepsKnownStatus(t *testing.T) {
	err := FromCode("FORBIDDEN", "read only")
	assert.Equal(t, http.StatusForbidden, err.Status)
	assert.Equal(t, "read only", err.Message)
	assert.True(t, Is(err, ErrForbidden))

	err = FromCode("SOMETHING_NEW", "odd")
	assert.Equal(t, "SOMETHING_NEW", err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestIsFollowsWrappedChain(t *testing.T) {
	inner := Clone(ErrNotFound, "job missing")
	outer := Wrap(fmt.Errorf("load: %w", inner), ErrTransient.Code, ErrTransient.Status, "retry")
	assert.True(t, Is(outer, ErrTransient))
	assert.True(t, Is(outer, ErrNotFound))
	assert.False(t, Is(outer, ErrForbidden))
}
