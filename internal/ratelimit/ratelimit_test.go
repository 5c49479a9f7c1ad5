package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ratelimit:create-account:10.0.0.1"

func TestAllowStartsWindowOnFirstHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := New(client, "create-account", 2, 15*time.Minute)

	mock.ExpectIncr(testKey).SetVal(1)
	mock.ExpectExpire(testKey, 15*time.Minute).SetVal(true)
	mock.ExpectIncr(testKey).SetVal(2)

	res, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowRejectsOverLimit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := New(client, "create-account", 2, 15*time.Minute)

	mock.ExpectIncr(testKey).SetVal(3)
	mock.ExpectTTL(testKey).SetVal(90 * time.Second)

	res, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 90*time.Second, res.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowRearmsWindowWithoutExpiry(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := New(client, "create-account", 2, 15*time.Minute)

	// first hit counted but EXPIRE failed, leaving a key that never expires
	mock.ExpectIncr(testKey).SetVal(1)
	mock.ExpectExpire(testKey, 15*time.Minute).SetErr(errors.New("i/o timeout"))
	mock.ExpectIncr(testKey).SetVal(3)
	mock.ExpectTTL(testKey).SetVal(time.Duration(-1))
	mock.ExpectExpire(testKey, 15*time.Minute).SetVal(true)

	_, err := l.Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)

	res, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 15*time.Minute, res.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/accounts", nil)
		r.RemoteAddr = "10.0.0.1:51234"
		return r
	}

	t.Run("over the limit", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectIncr(testKey).SetVal(101)
		mock.ExpectTTL(testKey).SetVal(time.Minute)

		rec := httptest.NewRecorder()
		New(client, "create-account", 100, 15*time.Minute).Middleware(next).ServeHTTP(rec, newRequest())

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "rate_limited")
	})

	t.Run("redis failure lets the request through", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectIncr(testKey).SetErr(errors.New("connection refused"))

		rec := httptest.NewRecorder()
		New(client, "create-account", 100, 15*time.Minute).Middleware(next).ServeHTTP(rec, newRequest())
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("disabled without redis", func(t *testing.T) {
		rec := httptest.NewRecorder()
		New(nil, "create-account", 100, 15*time.Minute).Middleware(next).ServeHTTP(rec, newRequest())
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}
