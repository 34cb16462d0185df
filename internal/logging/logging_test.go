package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, Config{ServiceName: "lingochat", Environment: "test", Level: "warn"})

	log.Info("dropped")
	log.Warn("kept", "k", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "lingochat", line["service"])
	assert.Equal(t, "test", line["env"])
}

func TestMaskMobile(t *testing.T) {
	assert.Equal(t, "+1*11", MaskMobile("+1111"))
	assert.Equal(t, "+9******10", MaskMobile("+919876510"))
	assert.Equal(t, "****", MaskMobile("+12"))
}
