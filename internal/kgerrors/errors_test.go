package kgerrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/kgerrors"
)

func TestError_Format(t *testing.T) {
	// Arrange
	err := kgerrors.Validation("max_hops must be between 1 and 10, got %d", 12).WithOp("FindPaths")

	// Act
	msg := err.Error()

	// Assert
	assert.Equal(t, "[VALIDATION] FindPaths: max_hops must be between 1 and 10, got 12", msg)
}

func TestError_UnwrapPreservesCause(t *testing.T) {
	// Arrange
	cause := fmt.Errorf("connection refused")
	err := kgerrors.Provider(true, cause, "embedding request failed")

	// Act & Assert
	assert.True(t, errors.Is(err, cause))
	assert.True(t, kgerrors.IsRetryable(err))
}

func TestWrap_KeepsExistingClassification(t *testing.T) {
	// Arrange
	inner := kgerrors.NotFound("concept", "c_0011aabbccdd")

	// Act
	wrapped := kgerrors.Wrap(fmt.Errorf("load neighbors: %w", inner), "Neighbors")

	// Assert
	require.NotNil(t, wrapped)
	assert.Equal(t, kgerrors.KindNotFound, wrapped.Kind)
	assert.False(t, kgerrors.IsRetryable(wrapped))
}

func TestWrap_ForeignErrorBecomesInternal(t *testing.T) {
	// Act
	wrapped := kgerrors.Wrap(fmt.Errorf("disk full"), "PutConcept")

	// Assert
	require.NotNil(t, wrapped)
	assert.Equal(t, kgerrors.KindInternal, wrapped.Kind)
	assert.Equal(t, "PutConcept", wrapped.Op)
}

func TestWrap_NilStaysNil(t *testing.T) {
	assert.Nil(t, kgerrors.Wrap(nil, "anything"))
}

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := []struct {
		kind kgerrors.Kind
		want int
	}{
		{kgerrors.KindValidation, http.StatusBadRequest},
		{kgerrors.KindUnauthorized, http.StatusUnauthorized},
		{kgerrors.KindForbidden, http.StatusForbidden},
		{kgerrors.KindNotFound, http.StatusNotFound},
		{kgerrors.KindConflict, http.StatusConflict},
		{kgerrors.KindProvider, http.StatusServiceUnavailable},
		{kgerrors.KindTimeout, http.StatusGatewayTimeout},
		{kgerrors.KindInternal, http.StatusInternalServerError},
		{kgerrors.KindConsistency, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := kgerrors.New(tc.kind, "boom")
			assert.Equal(t, tc.want, err.HTTPStatus())
		})
	}
}

func TestTimeout_IsRetryable(t *testing.T) {
	err := kgerrors.Timeout("FindPaths", 30*time.Second)

	assert.True(t, kgerrors.IsRetryable(err))
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindTimeout))
	assert.Contains(t, err.Error(), "30s")
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, kgerrors.KindInternal, kgerrors.KindOf(errors.New("plain")))
}
