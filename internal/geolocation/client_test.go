package geolocation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"members-service/internal/common/logger"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Lookup(t *testing.T) {
	location := `{"country":"DE","city":"Berlin"}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/203.0.113.7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(location))
	}))
	defer server.Close()

	client := NewClient(server.URL, 500*time.Millisecond, nil, logger.NewTestLogger(t))

	got, err := client.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.JSONEq(t, location, string(got))
}

func TestClient_LookupEmptyIP(t *testing.T) {
	client := NewClient("http://geo.invalid", 500*time.Millisecond, nil, logger.NewNoOpLogger())

	got, err := client.Lookup(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_LookupTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Millisecond, nil, logger.NewNoOpLogger())

	_, err := client.Lookup(context.Background(), "203.0.113.7")
	assert.Error(t, err, "timeout must surface as an error for the caller to degrade")
}

func TestClient_LookupNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 500*time.Millisecond, nil, logger.NewNoOpLogger())

	_, err := client.Lookup(context.Background(), "203.0.113.7")
	assert.Error(t, err)
}

func TestClient_LookupCacheHit(t *testing.T) {
	location := `{"country":"FR"}`

	redisClient, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("geo:198.51.100.4").SetVal(location)

	// No HTTP server: a cache hit must not reach upstream.
	client := NewClient("http://geo.invalid", 500*time.Millisecond, redisClient, logger.NewNoOpLogger())

	got, err := client.Lookup(context.Background(), "198.51.100.4")
	require.NoError(t, err)
	assert.JSONEq(t, location, string(got))
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
