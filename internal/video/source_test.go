package video

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFPS(t *testing.T) {
	assert.InDelta(t, 30.0, ParseFPS("30"), 1e-9)
	assert.InDelta(t, 29.97002997, ParseFPS("30000/1001"), 1e-6)
	assert.Equal(t, 0.0, ParseFPS(""))
	assert.Equal(t, 0.0, ParseFPS("x/y"))
	assert.Equal(t, 0.0, ParseFPS("1/0"))
	assert.Equal(t, 0.0, ParseFPS("garbage"))
}

func TestComputeProcessingFPS_capByMaxFrames(t *testing.T) {
	// 60s at 30fps would be 1800 frames; a 900-frame cap halves the rate.
	got := ComputeProcessingFPS(30, 60, 900)
	assert.InDelta(t, 15, got, 1e-9)
}

func TestComputeProcessingFPS_sourceSlowerThanCap(t *testing.T) {
	got := ComputeProcessingFPS(10, 10, 900)
	assert.InDelta(t, 10, got, 1e-9)
}

func TestComputeProcessingFPS_floors(t *testing.T) {
	// Tiny caps never go below 0.1 fps.
	got := ComputeProcessingFPS(30, 10000, 100)
	assert.InDelta(t, 0.1, got, 1e-9)

	// Broken source rates are floored at 1 fps.
	got = ComputeProcessingFPS(0, 10, 900)
	assert.InDelta(t, 1, got, 1e-9)
}

func TestCountFrames_andFramePath(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("%06d.jpg", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("jpg"), 0o644))
	}

	n, err := CountFrames(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	path, err := FramePath(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "000001.jpg"), path)

	_, err = FramePath(dir, 7)
	assert.Error(t, err)
}

func TestCleanup_missingPathIgnored(t *testing.T) {
	Cleanup(filepath.Join(t.TempDir(), "does-not-exist"))
}
