package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNoActiveKey,
		ErrUnknownKey,
		ErrInvalidPEM,
		ErrUnsupportedAlg,
		ErrDuplicateKey,
		ErrClientExists,
		ErrClientNotFound,
		ErrUserExists,
		ErrUserNotFound,
		ErrTokenNotFound,
		ErrExpired,
		ErrClientMismatch,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeInvalidClient, http.StatusUnauthorized},
		{CodeInvalidToken, http.StatusUnauthorized},
		{CodeInvalidGrant, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeUnsupportedGrantType, http.StatusBadRequest},
		{CodeInsufficientScope, http.StatusForbidden},
		{CodeServerError, http.StatusInternalServerError},
		{CodeTemporarilyUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.code), tt.code)
	}
}

func TestOAuthError_Error(t *testing.T) {
	assert.Equal(t, "invalid_grant: code expired", InvalidGrant("code expired").Error())
	assert.Equal(t, "invalid_grant", New(CodeInvalidGrant, "").Error())
}

func TestWithStatus_ZeroFallsBack(t *testing.T) {
	e := WithStatus(0, CodeInvalidClient, "")
	assert.Equal(t, http.StatusUnauthorized, e.Status)

	e = WithStatus(http.StatusTeapot, CodeInvalidClient, "")
	assert.Equal(t, http.StatusTeapot, e.Status)
}

func TestAs(t *testing.T) {
	assert.Nil(t, As(nil))

	wrapped := fmt.Errorf("minting: %w", InvalidGrant("bad"))
	oe := As(wrapped)
	require.NotNil(t, oe)
	assert.Equal(t, CodeInvalidGrant, oe.Code)

	oe = As(errors.New("boom"))
	assert.Equal(t, CodeServerError, oe.Code)
	assert.Equal(t, http.StatusInternalServerError, oe.Status)
}
