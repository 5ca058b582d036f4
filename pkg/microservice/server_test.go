package microservice_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-tunesync/pkg/microservice"
	"github.com/illmade-knight/go-tunesync/pkg/session"
)

type staticSnapshot []session.View

func (s staticSnapshot) Snapshot() []session.View { return s }

func TestSettingsHandler(t *testing.T) {
	views := staticSnapshot{{Key: "throttleSetting", State: "loaded", Present: true, Generation: 2, Value: 7}}
	h := microservice.SettingsHandler(views, zerolog.Nop())

	t.Run("GET returns the snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var got []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "throttleSetting", got[0]["key"])
		assert.Equal(t, 7.0, got[0]["value"])
	})

	t.Run("Other methods are refused", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/settings", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestBaseServer_Lifecycle(t *testing.T) {
	srv := microservice.NewBaseServer(zerolog.Nop(), ":0", staticSnapshot{})
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://localhost" + srv.GetHTTPPort() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestBaseServer_Mux(t *testing.T) {
	views := staticSnapshot{{Key: "tuningConfig", State: "loaded", Present: true}}
	srv := microservice.NewBaseServer(zerolog.Nop(), ":0", views)
	srv.Mux().HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("dev"))
	})

	for path, want := range map[string]string{"/healthz": "OK", "/version": "dev"} {
		rec := httptest.NewRecorder()
		srv.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tuningConfig"`)
}
