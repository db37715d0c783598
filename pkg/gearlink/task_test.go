package gearlink

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

func newFakeClient(t *testing.T) (*Client, *fakeClient) {
	t.Helper()
	fe := newFakeEngine()
	c, err := NewClient(fe)
	require.NoError(t, err)
	return c, fe.client
}

func stateOf(c *Client, id uint64) (slotState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.tasks[id]
	if !ok {
		return 0, false
	}
	return slot.state, true
}

func TestTask_ReleaseAndFreeInterleavings(t *testing.T) {
	tests := []struct {
		name  string
		steps []string
	}{
		{name: "release then free", steps: []string{"release", "free"}},
		{name: "free then release", steps: []string{"free", "release"}},
		{name: "double release then free", steps: []string{"release", "release", "free"}},
		{name: "free then double release", steps: []string{"free", "release", "release"}},
		{name: "event between release and free", steps: []string{"release", "event", "free"}},
		{name: "event before free then release", steps: []string{"event", "free", "release"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fc := newFakeClient(t)
			require.NoError(t, c.SetDataCallback(func(task *Task) engine.Status {
				_, err := task.TakeData()
				require.NoError(t, err)
				return engine.StatusSuccess
			}))

			task, err := c.AddTask("reverse", []byte("abc"))
			require.NoError(t, err)
			id := task.ID()

			for _, step := range tt.steps {
				switch step {
				case "release":
					task.Release()
				case "free":
					fc.free(id)
				case "event":
					require.Equal(t, engine.StatusSuccess, fc.emit(engine.EventData, id, []byte("chunk")))
				}
			}

			_, tracked := stateOf(c, id)
			require.False(t, tracked)
			require.Equal(t, 1, c.buffersReleased)
			require.Zero(t, fc.staleAccesses)
		})
	}
}

func TestTask_ReadsSnapshotAfterEngineFree(t *testing.T) {
	c, fc := newFakeClient(t)

	task, err := c.AddTask("reverse", []byte("abc"), WithUnique("u-1"), WithTaskContext("ctx"))
	require.NoError(t, err)
	fc.tasks[task.ID()].handle = "H:1"
	fc.tasks[task.ID()].data = []byte("result")

	fc.free(task.ID())

	name, err := task.FunctionName()
	require.NoError(t, err)
	require.Equal(t, "reverse", name)

	unique, err := task.Unique()
	require.NoError(t, err)
	require.Equal(t, "u-1", unique)

	handle, err := task.JobHandle()
	require.NoError(t, err)
	require.Equal(t, "H:1", handle)

	data, err := task.TakeData()
	require.NoError(t, err)
	require.Equal(t, "result", string(data))

	size, err := task.DataSize()
	require.NoError(t, err)
	require.Zero(t, size)

	ctx, err := task.Context()
	require.NoError(t, err)
	require.Equal(t, "ctx", ctx)

	workload, err := task.Workload()
	require.NoError(t, err)
	require.Equal(t, "abc", string(workload))

	_, _, err = task.SendData([]byte("more"))
	require.ErrorIs(t, err, ErrNotInitialized)

	require.Zero(t, c.buffersReleased)
	task.Release()
	require.Equal(t, 1, c.buffersReleased)
	require.Zero(t, fc.staleAccesses)
}

func TestTask_DetachedHandleIsNotInitialized(t *testing.T) {
	c, _ := newFakeClient(t)
	task, err := c.AddTask("reverse", nil)
	require.NoError(t, err)

	task.Release()

	_, err = task.FunctionName()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = task.Data()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = task.IsKnown()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, _, err = task.RecvData(4)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, task.SetContext(1), ErrNotInitialized)

	var zero Task
	zero.client = c
	_, err = zero.Unique()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestTask_ResurrectedForEventAfterRelease(t *testing.T) {
	c, fc := newFakeClient(t)

	var transient *Task
	var seenName, seenData string
	var seenCtx any
	require.NoError(t, c.SetCompleteCallback(func(task *Task) engine.Status {
		transient = task
		seenName, _ = task.FunctionName()
		data, _ := task.TakeData()
		seenData = string(data)
		seenCtx, _ = task.Context()
		return engine.StatusSuccess
	}))

	task, err := c.AddTask("reverse", []byte("abc"), WithTaskContext(42))
	require.NoError(t, err)
	id := task.ID()
	task.Release()

	state, ok := stateOf(c, id)
	require.True(t, ok)
	require.Equal(t, slotPendingDeath, state)

	require.Equal(t, engine.StatusSuccess, fc.emit(engine.EventComplete, id, []byte("cba")))
	require.NotNil(t, transient)
	require.NotSame(t, task, transient)
	require.Equal(t, "reverse", seenName)
	require.Equal(t, "cba", seenData)
	require.Equal(t, 42, seenCtx)

	_, err = transient.FunctionName()
	require.ErrorIs(t, err, ErrNotInitialized)
	state, ok = stateOf(c, id)
	require.True(t, ok)
	require.Equal(t, slotPendingDeath, state)
	require.Zero(t, c.buffersReleased)

	fc.free(id)
	_, ok = stateOf(c, id)
	require.False(t, ok)
	require.Equal(t, 1, c.buffersReleased)
	require.Zero(t, fc.staleAccesses)
}

func TestTask_ReleaseInsideCallbackOfLiveTask(t *testing.T) {
	c, fc := newFakeClient(t)

	require.NoError(t, c.SetCreatedCallback(func(task *Task) engine.Status {
		task.Release()
		return engine.StatusSuccess
	}))

	task, err := c.AddTask("reverse", nil)
	require.NoError(t, err)
	fc.emit(engine.EventCreated, task.ID(), nil)

	state, ok := stateOf(c, task.ID())
	require.True(t, ok)
	require.Equal(t, slotPendingDeath, state)

	fc.free(task.ID())
	require.Equal(t, 1, c.buffersReleased)
}

func TestTask_EngineFreeDuringResurrectedDelivery(t *testing.T) {
	c, fc := newFakeClient(t)

	var id uint64
	require.NoError(t, c.SetDataCallback(func(task *Task) engine.Status {
		fc.free(id)
		name, err := task.FunctionName()
		require.NoError(t, err)
		require.Equal(t, "reverse", name)
		return engine.StatusSuccess
	}))

	task, err := c.AddTask("reverse", nil)
	require.NoError(t, err)
	id = task.ID()
	task.Release()

	fc.emit(engine.EventData, id, []byte("x"))
	_, ok := stateOf(c, id)
	require.False(t, ok)
	require.Equal(t, 1, c.buffersReleased)
	require.Zero(t, fc.staleAccesses)
}

func TestTask_TakeDataNeverReturnsResidue(t *testing.T) {
	c, fc := newFakeClient(t)

	var taken []string
	require.NoError(t, c.SetDataCallback(func(task *Task) engine.Status {
		first, err := task.TakeData()
		require.NoError(t, err)
		second, err := task.TakeData()
		require.NoError(t, err)
		require.Empty(t, second)
		taken = append(taken, string(first))
		return engine.StatusSuccess
	}))

	task, err := c.AddTask("stream", nil)
	require.NoError(t, err)

	fc.emit(engine.EventData, task.ID(), []byte("abcdef"))
	fc.emit(engine.EventData, task.ID(), []byte("gh"))
	fc.emit(engine.EventData, task.ID(), nil)

	require.Equal(t, []string{"abcdef", "gh", ""}, taken)
}

func TestTask_CollectedWrapperIsResurrected(t *testing.T) {
	c, fc := newFakeClient(t)

	delivered := 0
	require.NoError(t, c.SetStatusCallback(func(task *Task) engine.Status {
		delivered++
		return engine.StatusSuccess
	}))

	id := addAndDrop(t, c)

	require.Eventually(t, func() bool {
		runtime.GC()
		state, ok := stateOf(c, id)
		return ok && state == slotPendingDeath
	}, 5*time.Second, 10*time.Millisecond)

	fc.emit(engine.EventStatus, id, nil)
	require.Equal(t, 1, delivered)

	fc.free(id)
	_, ok := stateOf(c, id)
	require.False(t, ok)
	require.Equal(t, 1, c.buffersReleased)
}

// addAndDrop adds a task and lets its handle become unreachable.
func addAndDrop(t *testing.T, c *Client) uint64 {
	task, err := c.AddTask("gc", []byte("payload"))
	require.NoError(t, err)
	return task.ID()
}

func TestTask_ClientCloseFreesEngineTasks(t *testing.T) {
	c, fc := newFakeClient(t)

	kept, err := c.AddTask("a", []byte("1"))
	require.NoError(t, err)
	dropped, err := c.AddTask("b", []byte("2"))
	require.NoError(t, err)
	dropped.Release()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, fc.closed)
	require.Equal(t, 1, c.buffersReleased)

	name, err := kept.FunctionName()
	require.NoError(t, err)
	require.Equal(t, "a", name)

	kept.Release()
	require.Equal(t, 2, c.buffersReleased)
	require.Empty(t, c.Tasks())
}
