package logging

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_HistoryRespectsLevel(t *testing.T) {
	l, err := New(&Config{Level: LevelInfo, MaxHistory: 10})
	require.NoError(t, err)

	l.Debug("test", "hidden", nil)
	l.Warn("test", "shown", map[string]interface{}{"b": 2, "a": 1})
	l.Error("test", "failed", errors.New("boom"), nil)

	hist := l.GetHistory(0)
	require.Len(t, hist, 3) // init + warn + error
	assert.Equal(t, "Logger initialized", hist[0].Message)
	assert.Equal(t, "a=1, b=2", hist[1].Data)
	assert.Equal(t, "warn", hist[1].Level)
	assert.Equal(t, "error=boom", hist[2].Data)
	assert.Empty(t, l.GetLogPath())
}

func TestGetHistory_Bounded(t *testing.T) {
	l, err := New(&Config{Level: LevelDebug, MaxHistory: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		l.Info("test", "msg", map[string]interface{}{"i": i})
	}

	hist := l.GetHistory(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "i=4", hist[2].Data)

	last := l.GetHistory(1)
	require.Len(t, last, 1)
	assert.Equal(t, "i=4", last[0].Data)
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{LogDir: dir, Level: LevelDebug, File: true})
	require.NoError(t, err)

	clog := l.Component("clock")
	clog.Info().Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"clock"`)
	assert.Contains(t, string(data), `"app":"speakavatar"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
