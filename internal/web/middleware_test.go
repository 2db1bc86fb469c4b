// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/logging"
)

func TestInstrument_LogsCarryTraceContext(t *testing.T) {
	const (
		traceID     = "4bf92f3577b34da6a3ce929d0e0e4736"
		traceparent = "00-" + traceID + "-00f067aa0ba902b7-01"
	)

	var buf bytes.Buffer
	api := newAPIWithLogger(t, logging.Setup(logging.Options{Service: "gatekeeper", Format: "json"}, &buf))

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"successful request", "/auth/register", `{"name":"Trace","email":"trace@example.com","password":"secret1","confirmPassword":"secret1"}`, http.StatusOK},
		{"failed request", "/auth/login", `{"email":"ghost@example.com","password":"secret1"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("traceparent", traceparent)
			rec := httptest.NewRecorder()
			api.server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var found bool
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(line), &entry))
				if entry["msg"] != "http request" {
					continue
				}
				found = true
				assert.Equal(t, traceID, entry["trace_id"])
				assert.NotEmpty(t, entry["span_id"])
				assert.Equal(t, tt.path, entry["route"])
			}
			assert.True(t, found, "expected an http request line in %s", buf.String())
		})
	}
}

func TestInstrument_NoTraceparentLogsNoTraceID(t *testing.T) {
	var buf bytes.Buffer
	api := newAPIWithLogger(t, logging.Setup(logging.Options{Format: "json"}, &buf))

	rec, _ := api.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "ghost@example.com", "password": "secret1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "http request" {
			assert.NotContains(t, entry, "trace_id")
		}
	}
}
