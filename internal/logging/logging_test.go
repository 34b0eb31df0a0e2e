package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLevel(tc.input), "level %q", tc.input)
	}
}

func TestInitSetsGlobalLevel(t *testing.T) {
	Init(Config{Level: "debug", Format: "json", Component: "test"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Init(Config{Level: "info", Format: "json"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
