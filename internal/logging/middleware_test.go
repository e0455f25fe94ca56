package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerMiddleware(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, request *http.Request) map[string]any {
		t.Helper()

		buf := &bytes.Buffer{}
		middleware := logging.NewRequestLoggerMiddleware(slog.New(slog.NewJSONHandler(buf, nil)))

		handler := middleware(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Info("handled")
		})
		handler(httptest.NewRecorder(), request)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.NotEmpty(t, entry["correlationID"])
		delete(entry, "correlationID")
		delete(entry, "time")
		return entry
	}

	t.Run("all props", func(t *testing.T) {
		t.Parallel()

		request := httptest.NewRequest(http.MethodPost, "http://example.com/v1/refresh", nil)
		request.Header.Set("User-Agent", "obs-browser/1.0")

		require.Equal(t, map[string]any{
			"level":     "INFO",
			"msg":       "handled",
			"method":    "POST",
			"path":      "/v1/refresh",
			"userAgent": "obs-browser/1.0",
		}, run(t, request))
	})

	t.Run("missing user agent", func(t *testing.T) {
		t.Parallel()

		request := httptest.NewRequest(http.MethodGet, "http://example.com/v1/stats", nil)
		request.Header.Del("User-Agent")

		entry := run(t, request)
		require.Equal(t, "<missing>", entry["userAgent"])
		require.Equal(t, "/v1/stats", entry["path"])
	})
}
