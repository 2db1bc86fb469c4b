// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TOKEN_SIGN_FAILED").
		With("account_id", 7).
		Errorf("signing failed")

	errutil.LogError(logger, "operation failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "operation failed", entry["msg"])
	assert.Equal(t, "TOKEN_SIGN_FAILED", entry["code"])
	assert.Contains(t, entry, "context")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogErrorContext_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{Service: "gatekeeper"}, &buf)

	ctx := logging.WithRequestID(context.Background(), "req-1")
	errutil.LogErrorContext(ctx, logger, "request failed", errors.New("boom"))

	entry := decode(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
}
