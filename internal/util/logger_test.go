package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestLoggerConfig(t *testing.T) {
	prod := loggerConfig("production", "warn", "json")
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, "timestamp", prod.EncoderConfig.TimeKey)
	assert.NotNil(t, prod.Sampling)
	assert.Equal(t, zapcore.WarnLevel, prod.Level.Level())

	dev := loggerConfig("development", "debug", "text")
	assert.Equal(t, "console", dev.Encoding)
	assert.Nil(t, dev.Sampling)
	assert.Equal(t, []string{"stdout"}, dev.OutputPaths)
}

func TestSessionRef(t *testing.T) {
	assert.Equal(t, "abcdefgh", SessionRef("abcdefghijklmnop").String)
	assert.Equal(t, "abc", SessionRef("abc").String)
}
