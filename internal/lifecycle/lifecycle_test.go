package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartyporpoise/porpulse/internal/config"
	"github.com/hartyporpoise/porpulse/internal/cpu"
	"github.com/hartyporpoise/porpulse/internal/registry"
	"github.com/hartyporpoise/porpulse/internal/rkllm"
)

type fakeBinding struct {
	initCalls    int
	destroyCalls int
	destroyErr   error
	nextHandle   rkllm.Handle
	lastParam    rkllm.Param
}

func (f *fakeBinding) Init(p rkllm.Param, cb rkllm.Callback) (rkllm.Handle, error) {
	f.initCalls++
	f.nextHandle++
	f.lastParam = p
	return f.nextHandle, nil
}
func (f *fakeBinding) Run(rkllm.Handle, string, bool, rkllm.InferParam, rkllm.Callback) error {
	return nil
}
func (f *fakeBinding) RunAsync(rkllm.Handle, string, bool, rkllm.InferParam, rkllm.Callback) error {
	return nil
}
func (f *fakeBinding) IsRunning(rkllm.Handle) bool { return false }
func (f *fakeBinding) WaitAsync(rkllm.Handle)      {}
func (f *fakeBinding) ClearKVCache(rkllm.Handle) error { return nil }
func (f *fakeBinding) SetChatTemplate(rkllm.Handle, string, string, string) error { return nil }
func (f *fakeBinding) Destroy(rkllm.Handle) error {
	f.destroyCalls++
	return f.destroyErr
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"modelA", "modelB"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+"-ctx4096-rk3588.rkllm"), []byte("x"), 0o644))
	}
	reg := registry.New(root)
	require.NoError(t, reg.Discover())
	return reg
}

func TestLoadInitializesAndRecordsCurrent(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	loaded, err := mgr.Load("modelA")
	require.NoError(t, err)
	assert.Equal(t, "modelA", loaded.Name)
	assert.Equal(t, 1, fb.initCalls)

	cur, ok := mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "modelA", cur.Name)
}

func TestLoadUnknownModelReturnsError(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	_, err := mgr.Load("does-not-exist")
	assert.Error(t, err)
}

func TestLoadSecondModelEvictsFirst(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	_, err := mgr.Load("modelA")
	require.NoError(t, err)
	_, err = mgr.Load("modelB")
	require.NoError(t, err)

	assert.Equal(t, 2, fb.initCalls)
	assert.Equal(t, 1, fb.destroyCalls)

	cur, ok := mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "modelB", cur.Name)
}

func TestEnsureLoadedIsNoOpWhenAlreadyResident(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	_, err := mgr.Load("modelA")
	require.NoError(t, err)

	_, err = mgr.EnsureLoaded("modelA")
	require.NoError(t, err)
	assert.Equal(t, 1, fb.initCalls)
}

func TestLoadUsesCPUAdvisorWhenEnabledCPUsNumUnset(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	cfg := config.Default()
	cfg.Hardware.EnabledCPUsNum = 0
	topo := &cpu.Topology{LogicalCores: 8, PhysicalCores: 8, PCores: 8}
	mgr := New(fb, reg, cfg, topo)

	_, err := mgr.Load("modelA")
	require.NoError(t, err)
	assert.Equal(t, int8(cpu.OptimalThreadCount(topo)), fb.lastParam.Extend.EnabledCPUsNum)
}

func TestLoadHonorsExplicitEnabledCPUsNum(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	cfg := config.Default()
	cfg.Hardware.EnabledCPUsNum = 2
	topo := &cpu.Topology{LogicalCores: 8, PhysicalCores: 8, PCores: 8}
	mgr := New(fb, reg, cfg, topo)

	_, err := mgr.Load("modelA")
	require.NoError(t, err)
	assert.Equal(t, int8(2), fb.lastParam.Extend.EnabledCPUsNum)
}

func TestUnloadWithNoModelReturnsErrNoModelLoaded(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	err := mgr.Unload()
	assert.ErrorIs(t, err, ErrNoModelLoaded)
}

func TestUnloadDestroysResidentModel(t *testing.T) {
	fb := &fakeBinding{}
	reg := newTestRegistry(t)
	mgr := New(fb, reg, config.Default(), nil)

	_, err := mgr.Load("modelA")
	require.NoError(t, err)

	require.NoError(t, mgr.Unload())
	assert.Equal(t, 1, fb.destroyCalls)

	_, ok := mgr.Current()
	assert.False(t, ok)
}
