package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLogsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "production", "info")
	log.Info("credit issued", "credit_id", "HC-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "credit issued", line["msg"])
	assert.Equal(t, "HC-1", line["credit_id"])
	assert.Equal(t, "hycredit", line["service"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "development", "warn")
	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "msg=kept")
}
