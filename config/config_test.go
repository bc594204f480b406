package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stagemesh/core"
)

const sampleYAML = `
max_iterations: 7
resources:
  - name: db
    kind: database
  - name: cache
    kind: other
    dependencies: [db]
plugins:
  - name: input_parser
    type: adapter
    stages: [PARSE]
    dependencies: [db]
  - name: worker
    type: tool
    produces: [do.result]
`

func TestParse_TypedConversion(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxIterations)

	require.Len(t, cfg.Resources, 2)
	assert.Equal(t, core.ResourceKindDatabase, cfg.Resources[0].Kind)
	assert.Equal(t, []string{"db"}, cfg.Resources[1].Dependencies)

	require.Len(t, cfg.Plugins, 2)
	assert.Equal(t, core.PluginTypeAdapter, cfg.Plugins[0].Type)
	assert.Equal(t, []core.Stage{core.StageParse}, cfg.Plugins[0].Stages)
	assert.Equal(t, core.PluginTypeTool, cfg.Plugins[1].Type)
	assert.Empty(t, cfg.Plugins[1].Stages)
	assert.Equal(t, []string{"do.result"}, cfg.Plugins[1].Produces)
}

func TestParse_RejectsUnknownEnums(t *testing.T) {
	_, err := Parse([]byte("resources:\n  - name: x\n    kind: quantum\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `resource "x"`)

	_, err = Parse([]byte("plugins:\n  - name: p\n    type: widget\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "p"`)

	_, err = Parse([]byte("plugins:\n  - name: p\n    type: tool\n    stages: [DREAM]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "p"`)
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("plugins: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxIterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 1\n"), 0o600))

	var reloads atomic.Int32
	var lastMax atomic.Int32
	w, err := NewWatcher(path, func(_ context.Context, cfg *Config) error {
		reloads.Add(1)
		lastMax.Store(int32(cfg.MaxIterations))
		return nil
	}, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watcher a moment to arm before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 9\n"), 0o600))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1 && lastMax.Load() == 9
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	<-done
}

func TestWatcher_KeepsPreviousConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 1\n"), 0o600))

	var applied atomic.Int32
	w, err := NewWatcher(path, func(_ context.Context, _ *Config) error {
		applied.Add(1)
		return nil
	}, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	// A broken file is rejected at load time; the callback never fires.
	require.NoError(t, os.WriteFile(path, []byte("plugins: [broken"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), applied.Load())

	// A subsequent valid write still goes through.
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 2\n"), 0o600))
	require.Eventually(t, func() bool { return applied.Load() >= 1 }, 5*time.Second, 25*time.Millisecond)

	cancel()
	<-done
}
