// observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/shotprep/internal/config"
)

// syncBuffer is a goroutine safe WriteSyncer for capturing output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, out)
		GetLogger().Info("This is a test message.")

		got := out.String()
		assert.Contains(t, got, "INFO")
		assert.Contains(t, got, colorGreen)
		assert.Contains(t, got, colorReset)
		assert.Contains(t, got, "[TestService]")
		assert.Contains(t, got, "This is a test message.")
	})

	t.Run("json logger emits structured fields", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("writes to rotating file when configured", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logFile := filepath.Join(t.TempDir(), "shotprep.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", LogFile: logFile, MaxSize: 1}, &syncBuffer{})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, out)

		assert.Same(t, first, GetLogger())
		GetLogger().Debug("suppressed")
		assert.NotContains(t, out.String(), "suppressed")
	})
}

func TestSetLevel(t *testing.T) {
	t.Run("fails before initialization", func(t *testing.T) {
		ResetForTest()
		assert.Error(t, SetLevel("debug"))
		assert.Equal(t, zapcore.InfoLevel, Level())
	})

	t.Run("changes the level at runtime", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, out)

		GetLogger().Debug("before")
		require.NoError(t, SetLevel("debug"))
		GetLogger().Debug("after")

		assert.Equal(t, zapcore.DebugLevel, Level())
		assert.NotContains(t, out.String(), "before")
		assert.Contains(t, out.String(), "after")
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info"}, &syncBuffer{})
		assert.Error(t, SetLevel("verbose"))
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("fallback works") })
}
