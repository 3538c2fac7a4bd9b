package envinfo

import (
	"encoding/json"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	info := Collect("v1.2.3")

	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform())
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Positive(t, info.NumCPU)
	assert.Positive(t, info.Goroutines)
	assert.NotEmpty(t, info.Hostname)
	assert.Equal(t, "v1.2.3", info.Version)
	assert.GreaterOrEqual(t, int64(info.Uptime()), int64(0))
}

func TestCollect_JSON(t *testing.T) {
	data, err := json.Marshal(Collect(""))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Contains(t, fields, "goVersion")
	assert.Contains(t, fields, "pid")
	assert.NotContains(t, fields, "version")
}
