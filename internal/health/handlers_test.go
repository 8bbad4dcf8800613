package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(_ context.Context, _ time.Duration) error {
	return s.dbErr
}

func (s stubChecker) PingRedis(_ context.Context, _ time.Duration) error {
	return s.redisErr
}

func ready(t *testing.T, checker health.Checker) (int, map[string]string) {
	t.Helper()
	handler := health.Handler{Checker: checker, DBTimeout: 50 * time.Millisecond, RedisTimeout: 50 * time.Millisecond}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReady(t *testing.T) {
	code, status := ready(t, stubChecker{})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, status)

	code, status = ready(t, stubChecker{dbErr: errors.New("db down")})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", status["db"])
}

func TestReadyWithoutDatabase(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	code, status := ready(t, health.Deps{Redis: client})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "disabled", status["db"])
	require.Equal(t, "ok", status["redis"])

	mr.Close()
	code, _ = ready(t, health.Deps{Redis: client})
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadinessAfterShutdown(t *testing.T) {
	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })

	code, status := ready(t, stubChecker{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", status["server"])

	health.SetReady(true)
	code, _ = ready(t, stubChecker{})
	require.Equal(t, http.StatusOK, code)
}
