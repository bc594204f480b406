package stagemesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stagemesh/config"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/engine"
	"github.com/hupe1980/stagemesh/internal/testutil"
)

func respondWith(response any) core.Plugin {
	return core.NewPluginFunc("responder", func(pctx *core.PluginContext) error {
		return pctx.SetResponse(response)
	})
}

func TestStageMesh_BuildAndExecute(t *testing.T) {
	mesh := New()

	db := testutil.NewStaticResource("db", nil)
	resources := []ResourceRegistration{
		{Descriptor: core.ResourceDescriptor{Name: "db", Kind: core.ResourceKindDatabase}, Factory: db.Factory()},
	}
	plugins := []PluginRegistration{
		{
			Descriptor: core.PluginDescriptor{Name: "responder", Type: core.PluginTypeAdapter, Stages: []core.Stage{core.StageDeliver}},
			Plugin:     respondWith("hello"),
		},
	}

	require.NoError(t, mesh.Build(context.Background(), resources, plugins))
	defer mesh.Shutdown(context.Background())

	result, err := mesh.Execute(context.Background(), "msg", "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, engine.TerminatedSuccess, result.Termination)
	assert.Equal(t, "hello", result.Response)
}

func TestStageMesh_ExecuteBeforeBuildFails(t *testing.T) {
	mesh := New()
	_, err := mesh.Execute(context.Background(), "msg", "u1", "p1")
	assert.Error(t, err)
	assert.Error(t, mesh.RegisterTool(&testutil.StubTool{ToolName: "t"}))
}

func TestStageMesh_BuildRejectsInvalidConfiguration(t *testing.T) {
	mesh := New()

	// Unresolvable plugin dependency fails validation before any resource is
	// constructed.
	plugins := []PluginRegistration{
		{
			Descriptor: core.PluginDescriptor{Name: "worker", Type: core.PluginTypeTool, Dependencies: []string{"ghost"}},
			Plugin:     respondWith(nil),
		},
	}

	err := mesh.Build(context.Background(), nil, plugins)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestStageMesh_BuildFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
max_iterations: 2
resources:
  - name: db
    kind: database
plugins:
  - name: responder
    type: adapter
    stages: [DELIVER]
    dependencies: [db]
`))
	require.NoError(t, err)

	mesh := New()
	db := testutil.NewStaticResource("db", nil)

	err = mesh.BuildFromConfig(context.Background(), cfg,
		map[string]core.ResourceFactory{"db": db.Factory()},
		map[string]core.Plugin{"responder": respondWith("from config")},
	)
	require.NoError(t, err)
	defer mesh.Shutdown(context.Background())

	result, err := mesh.Execute(context.Background(), "msg", "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "from config", result.Response)
}

func TestStageMesh_BuildFromConfigMissingImplementations(t *testing.T) {
	cfg, err := config.Parse([]byte("resources:\n  - name: db\nplugins:\n  - name: p\n    type: tool\n"))
	require.NoError(t, err)

	mesh := New()
	err = mesh.BuildFromConfig(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `resource "db"`)
}

func TestStageMesh_RebuildReconfigures(t *testing.T) {
	mesh := New()

	pluginsV1 := []PluginRegistration{
		{
			Descriptor: core.PluginDescriptor{Name: "responder", Type: core.PluginTypeAdapter, Stages: []core.Stage{core.StageDeliver}},
			Plugin:     respondWith("v1"),
		},
	}
	require.NoError(t, mesh.Build(context.Background(), nil, pluginsV1))

	result, err := mesh.Execute(context.Background(), "msg", "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Response)

	pluginsV2 := []PluginRegistration{
		{
			Descriptor: core.PluginDescriptor{Name: "responder", Type: core.PluginTypeAdapter, Stages: []core.Stage{core.StageDeliver}},
			Plugin:     respondWith("v2"),
		},
	}
	require.NoError(t, mesh.Build(context.Background(), nil, pluginsV2))
	defer mesh.Shutdown(context.Background())

	result, err = mesh.Execute(context.Background(), "msg", "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", result.Response)
}
