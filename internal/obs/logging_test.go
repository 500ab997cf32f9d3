package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := RequestLogger{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel), Quiet: []string{"/health/live"}}

	serve := func(path string, status int) {
		h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(tenant.With(req.Context(), "acme"))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	serve("/health/live", http.StatusOK)
	serve("/api/v1/drafts/d1", http.StatusOK)
	serve("/api/v1/drafts/d2", http.StatusNotFound)
	serve("/api/v1/drafts/d3", http.StatusBadGateway)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var levels []string
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "acme", entry["tenant_id"])
		assert.Equal(t, "http_request", entry["message"])
		levels = append(levels, entry["level"].(string))
	}
	assert.Equal(t, []string{"info", "warn", "error"}, levels)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "chatty")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
