package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := InitializeWithWriter("production", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { Log = zap.NewNop() })

	l.Info("job finished", zap.String("job_id", "j1"))
	_ = l.Sync()

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "job finished", entry["msg"])
	assert.Equal(t, "j1", entry["job_id"])
	assert.Contains(t, entry, "timestamp")
	assert.Same(t, l, Log)
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithContext(context.Background(), "abc")))

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(RequestIDKey, "from-gin")
	assert.Equal(t, "from-gin", RequestID(c))
}
