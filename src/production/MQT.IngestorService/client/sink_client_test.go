package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

func newTestClient(t *testing.T, srv *httptest.Server) *SinkClient {
	t.Helper()
	c, err := NewSinkClient(config.InfluxConfig{
		BaseURL:      srv.URL + "/",
		Organization: "beesbuddy",
		Bucket:       "hives",
		Token:        config.Secret("s3cr3t"),
		Timeout:      2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestWriteURL(t *testing.T) {
	assert.Equal(t, "http://influx:8086/api/v2/write?org=bees+buddy&bucket=hives",
		WriteURL("http://influx:8086/", "bees buddy", "hives"))
}

func TestWriteSendsSinglePoint(t *testing.T) {
	const line = "hive_sensors,device_name=hiveC temperature=21.5,humidity=55.2,weight=42"
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/write", r.URL.Path)
		assert.Equal(t, "beesbuddy", r.URL.Query().Get("org"))
		assert.Equal(t, "hives", r.URL.Query().Get("bucket"))
		assert.Equal(t, "Token s3cr3t", r.Header.Get("Authorization"))
		assert.Equal(t, "text/plain; charset=utf-8", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, line, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv).Write(context.Background(), line))
	assert.Equal(t, 1, calls)
}

func TestWriteNon2xxIsSinkError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized","message":"` + strings.Repeat("x", 8000) + `"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv).Write(context.Background(), "hive_sensors,device_name=a weight=1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mqtmodels.ErrSinkWrite))

	var se *mqtmodels.SinkWriteError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.LessOrEqual(t, len(se.Body), maxErrorBody)
	assert.Equal(t, 1, calls, "writes are never retried")
}

func TestWriteTransportErrorIsSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv)
	srv.Close()

	err := c.Write(context.Background(), "hive_sensors,device_name=a weight=1")
	assert.True(t, errors.Is(err, mqtmodels.ErrSinkWrite))
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	assert.NoError(t, c.Health(context.Background()))

	healthy = false
	assert.Error(t, c.Health(context.Background()))
}

func TestNewSinkClientRejectsBadURL(t *testing.T) {
	_, err := NewSinkClient(config.InfluxConfig{BaseURL: "influx:8086"})
	assert.Error(t, err)
}
