package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestZapAdapter_FieldsAreSortedAndCarried(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).With(map[string]interface{}{"taskType": "generate-reply"})

	log.Warn("anchor skipped", map[string]interface{}{
		"partial": "missing_partial",
		"anchor":  "warnings",
		"cause":   errors.New("not found"),
	})

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		entry := entries[0]
		assert.Equal(t, "anchor skipped", entry.Message)
		assert.Equal(t, zapcore.WarnLevel, entry.Level)

		ctx := entry.ContextMap()
		assert.Equal(t, "generate-reply", ctx["taskType"])
		assert.Equal(t, "warnings", ctx["anchor"])
		assert.Equal(t, "missing_partial", ctx["partial"])
		assert.Equal(t, "not found", ctx["cause"])

		keys := make([]string, 0, len(entry.Context))
		for _, f := range entry.Context {
			keys = append(keys, f.Key)
		}
		assert.Equal(t, []string{"taskType", "anchor", "cause", "partial"}, keys)
	}
}

func TestNoOpLogger_DoesNotPanic(t *testing.T) {
	log := NewNoOpLogger()
	assert.NotPanics(t, func() {
		log.Debug("d", nil)
		log.Info("i", map[string]interface{}{"k": 1})
		log.WithError(errors.New("boom")).Error("e", nil)
		log.WithFields(map[string]interface{}{"a": "b"}).Warn("w", nil)
	})
}
