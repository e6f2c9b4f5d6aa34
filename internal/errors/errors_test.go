package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hypertune/internal/logging"
)

var errConnRefused = stderrors.New("connection refused")

func TestWrap(t *testing.T) {
	err := Wrap(errConnRefused, "failed to connect to redis").
		WithComponent("store").WithOperation("NewRedisStore")

	assert.Equal(t, "failed to connect to redis: operation=NewRedisStore, component=store: connection refused", err.Error())
	assert.NotEmpty(t, err.StackTrace())
	assert.True(t, Is(err, errConnRefused))
	assert.True(t, stderrors.Is(fmt.Errorf("outer: %w", err), errConnRefused))

	var target *Error
	require.True(t, As(fmt.Errorf("outer: %w", err), &target))
	assert.Equal(t, "store", target.Component)
	assert.Equal(t, errConnRefused, Unwrap(err))

	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))
}

func TestWrapKeepsInnerErrorAndStack(t *testing.T) {
	inner := New("inner")
	outer := Wrapf(inner, "outer %d", 2)

	assert.Equal(t, "outer 2: inner", outer.Error())
	assert.Equal(t, "inner", inner.Error())
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, Is(outer, inner))
}

func TestErrorf(t *testing.T) {
	err := Errorf("run %s not found", "r1")
	assert.Equal(t, "run r1 not found", err.Error())
	assert.False(t, Is(err, errConnRefused))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := logging.New(logging.ErrorLevel, &discard{})
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/studies", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rr.Body.String())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
