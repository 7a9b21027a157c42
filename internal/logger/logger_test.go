package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow/internal/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromWriter(buff).Level("warn").Make()
	require.NoError(t, err)

	l.Info().Msg("hidden")
	require.Equal(t, 0, buff.Len())

	l.Warn().Str("document", "d1").Msg("Test")
	require.Contains(t, buff.String(), `"document":"d1"`)
	require.Contains(t, buff.String(), `"level":"warn"`)
	require.NoError(t, l.Close())
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signflow.log")
	l, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)
	l.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}
