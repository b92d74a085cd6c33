package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	l, err := New("error")
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestSetGlobal_IgnoresNil(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	nop := NewNop()
	SetGlobal(nop)
	assert.Same(t, nop, Global())

	SetGlobal(nil)
	assert.Same(t, nop, Global())
}

func TestWithRun_ReturnsChild(t *testing.T) {
	l := NewNop()
	child := l.WithRun("t1", "r1")
	require.NotNil(t, child)
	assert.NotSame(t, l, child)
}
