package volume

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/spec"
)

// MockRuntime is a mock implementation of container.Runtime and
// container.VolumeLister.
type MockRuntime struct {
	*mock.Mock
}

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{Mock: &mock.Mock{}}
}

func (m *MockRuntime) Name() string { return "mock" }

func (m *MockRuntime) Pull(ctx context.Context, image string) error {
	return m.Called(ctx, image).Error(0)
}

func (m *MockRuntime) Run(ctx context.Context, s spec.ContainerSpec) (int, error) {
	args := m.Called(ctx, s)
	return args.Int(0), args.Error(1)
}

func (m *MockRuntime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	return m.Called(ctx, name, labels).Error(0)
}

func (m *MockRuntime) RemoveVolume(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) InspectImage(ctx context.Context, image string) (string, bool, error) {
	args := m.Called(ctx, image)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRuntime) ListVolumes(ctx context.Context, label string) ([]container.VolumeInfo, error) {
	args := m.Called(ctx, label)
	return args.Get(0).([]container.VolumeInfo), args.Error(1)
}

func (m *MockRuntime) InUse(ctx context.Context, source string) (bool, error) {
	args := m.Called(ctx, source)
	return args.Bool(0), args.Error(1)
}

var notFound = &container.RuntimeError{Backend: "mock", Operation: "volume rm", ExitCode: 1, Err: errdefs.ErrNotFound}

var now = time.Unix(1_700_000_000, 0)

func testManager(rt *MockRuntime) *Manager {
	return &Manager{
		rt:       rt,
		now:      func() time.Time { return now },
		hostname: "devbox",
		pid:      4242,
		alive:    func(int) bool { return false },
	}
}

// created returns an ephemeral volume that has been created.
func created(t *testing.T, m *Manager) *Ephemeral {
	t.Helper()
	e := m.NewEphemeral()
	require.NoError(t, e.Create(context.Background()))
	return e
}

func cloneSpecFor(volume string) spec.ContainerSpec {
	return spec.New(spec.Params{
		Image:   "img",
		Command: []string{"git", "clone", "https://example.com/repo.git", "/workspace/repo"},
		Mounts:  []spec.Mount{spec.Volume(volume, spec.CloneWorkspace)},
	})
}

func TestEnsurePersistentIsIdempotent(t *testing.T) {
	rt := NewMockRuntime()
	m := testManager(rt)
	ctx := context.Background()

	rt.On("VolumeExists", mock.Anything, "agentbox-data").Return(false, nil).Once()
	rt.On("CreateVolume", mock.Anything, "agentbox-data", map[string]string(nil)).Return(nil).Once()
	require.NoError(t, m.EnsurePersistent(ctx, "agentbox-data"))

	rt.On("VolumeExists", mock.Anything, "agentbox-data").Return(true, nil).Once()
	require.NoError(t, m.EnsurePersistent(ctx, "agentbox-data"))

	rt.AssertExpectations(t)
	rt.AssertNumberOfCalls(t, "CreateVolume", 1)
}

func TestEnsurePersistentError(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("VolumeExists", mock.Anything, "agentbox-cache").Return(false, errors.New("daemon down"))

	err := testManager(rt).EnsurePersistent(context.Background(), "agentbox-cache")
	assert.ErrorContains(t, err, "agentbox-cache")
	rt.AssertNotCalled(t, "CreateVolume", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetPersistentToleratesMissing(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("RemoveVolume", mock.Anything, "agentbox-data").Return(nil)
	rt.On("RemoveVolume", mock.Anything, "agentbox-cache").Return(notFound)
	rt.On("RemoveVolume", mock.Anything, "agentbox-nix").Return(nil)

	removed, err := testManager(rt).ResetPersistent(context.Background(), "agentbox-data", "agentbox-cache", "agentbox-nix")
	require.NoError(t, err)
	assert.Equal(t, []string{"agentbox-data", "agentbox-nix"}, removed)
}

func TestCreateLabels(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("CreateVolume", mock.Anything, mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, EphemeralPrefix) && len(name) == len(EphemeralPrefix)+12
	}), map[string]string{
		LabelEphemeral: "true",
		LabelCreated:   "1700000000",
		LabelOwner:     "devbox:4242",
	}).Return(nil)

	e := created(t, testManager(rt))
	assert.Equal(t, Created, e.State())
	rt.AssertExpectations(t)
}

func TestEphemeralLifecycle(t *testing.T) {
	rt := NewMockRuntime()
	m := testManager(rt)
	ctx := context.Background()

	rt.On("CreateVolume", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e := created(t, m)

	clone := cloneSpecFor(e.Name())
	rt.On("Run", mock.Anything, clone).Return(0, nil)
	require.NoError(t, e.Populate(ctx, clone))
	assert.Equal(t, Populated, e.State())

	require.NoError(t, e.Mount(cloneSpecFor(e.Name())))
	assert.Equal(t, Mounted, e.State())

	rt.On("RemoveVolume", mock.Anything, e.Name()).Return(nil).Once()
	require.NoError(t, e.Release(ctx))
	assert.Equal(t, Removed, e.State())

	// A second release is a no-op.
	require.NoError(t, e.Release(ctx))
	rt.AssertNumberOfCalls(t, "RemoveVolume", 1)
}

func TestPopulateFailureRemovesVolume(t *testing.T) {
	rt := NewMockRuntime()
	m := testManager(rt)
	ctx := context.Background()

	rt.On("CreateVolume", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e := created(t, m)

	clone := cloneSpecFor(e.Name())
	rt.On("Run", mock.Anything, clone).Return(128, nil)
	rt.On("RemoveVolume", mock.Anything, e.Name()).Return(nil)

	err := e.Populate(ctx, clone)
	var perr *PopulateError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 128, perr.ExitCode)
	assert.Equal(t, Removed, e.State())

	err = e.Mount(cloneSpecFor(e.Name()))
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, Removed, lerr.From)
	assert.NotEqual(t, Mounted, e.State())

	// No second population attempt.
	require.Error(t, e.Populate(ctx, clone))
	rt.AssertNumberOfCalls(t, "Run", 1)
	rt.AssertExpectations(t)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.Init(log.Options{}) })
	require.NoError(t, e.Release(ctx))
	rt.AssertNumberOfCalls(t, "RemoveVolume", 1)
	assert.NotContains(t, buf.String(), "level=WARN", "releasing a removed volume is quiet")
}

func TestPopulateRejectsSpecWithoutVolume(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("CreateVolume", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e := created(t, testManager(rt))

	err := e.Populate(context.Background(), cloneSpecFor("other"))
	assert.ErrorIs(t, err, errNotMounted)
	assert.Equal(t, Created, e.State())
	rt.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestReleaseAfterCancel(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("CreateVolume", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e := created(t, testManager(rt))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt.On("RemoveVolume", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), e.Name()).Return(nil)

	require.NoError(t, e.Release(ctx))
	assert.Equal(t, Removed, e.State())
}

func TestReleaseMissingVolume(t *testing.T) {
	rt := NewMockRuntime()
	rt.On("CreateVolume", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e := created(t, testManager(rt))

	rt.On("RemoveVolume", mock.Anything, e.Name()).Return(notFound)
	require.NoError(t, e.Release(context.Background()))
	assert.Equal(t, Removed, e.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "populated", Populated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
