package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		level         string
		format        string
		expectedLevel logrus.Level
		expectJSON    bool
	}{
		{name: "json debug", level: "debug", format: "json", expectedLevel: logrus.DebugLevel, expectJSON: true},
		{name: "text warn", level: "warn", format: "TEXT", expectedLevel: logrus.WarnLevel, expectJSON: false},
		{name: "invalid level falls back to info", level: "loud", format: "", expectedLevel: logrus.InfoLevel, expectJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.level, tt.format)
			assert.Equal(t, tt.expectedLevel, l.GetLevel())
			_, isJSON := l.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.expectJSON, isJSON)
		})
	}
}
