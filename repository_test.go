// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/accel/config"
	"github.com/gviegas/accel/driver"
	"github.com/gviegas/accel/driver/soft"
	"github.com/gviegas/accel/task"
)

func newRepo(t *testing.T, cfg soft.Config, timeout time.Duration) (*soft.Driver, *task.Pool, *Repository) {
	t.Helper()
	d := openSoft(t, cfg)
	pool, err := task.NewPool(d, timeout)
	require.NoError(t, err)
	r, err := NewRepository(d, pool, config.Repository{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Destroy()
		pool.Destroy()
	})
	return d, pool, r
}

func TestAddGeometry(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	require.NoError(t, r.AddGeometry(7, false, newAABBs(t, d, 4)))
	assert.ErrorIs(t, r.AddGeometry(7, false, newAABBs(t, d, 4)), ErrExists)
	assert.ErrorIs(t, r.AddGeometry(8, false), ErrInvalidGeometry)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsDirty(7))
	assert.False(t, r.IsDirty(8))

	b, err := r.BLAS(7)
	require.NoError(t, err)
	assert.Equal(t, GeometryID(7), b.ID())
	assert.False(t, b.Built())
	_, err = r.BLAS(8)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.FlagUpdateGeometry(8), ErrNotFound)
	assert.ErrorIs(t, r.RemoveGeometry(8), ErrNotFound)
}

func TestRebuildDirty(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	ids := []GeometryID{30, 10, 20}
	for i, id := range ids {
		require.NoError(t, r.AddGeometry(id, true, newAABBs(t, d, 8*(i+1))))
	}
	assert.Equal(t, ids, r.Dirty())

	rep, err := r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Equal(t, ids, rep.Built)
	assert.Empty(t, rep.Failed)
	assert.Empty(t, r.Dirty())
	for _, id := range ids {
		b, err := r.BLAS(id)
		require.NoError(t, err)
		assert.True(t, b.Built())
		st := d.Stat(b.Handle())
		assert.Equal(t, 1, st.Builds)
		assert.Zero(t, st.Updates)
	}

	// No dirty geometry means no work.
	n := len(d.Executions())
	rep, err = r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Built)
	assert.Len(t, d.Executions(), n)

	require.NoError(t, r.FlagUpdateGeometry(20))
	require.NoError(t, r.FlagUpdateGeometry(20))
	assert.Equal(t, []GeometryID{20}, r.Dirty())
	rep, err = r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Equal(t, []GeometryID{20}, rep.Built)
	b, _ := r.BLAS(20)
	assert.Equal(t, 1, d.Stat(b.Handle()).Updates)
	b, _ = r.BLAS(30)
	assert.Zero(t, d.Stat(b.Handle()).Updates)

	assert.Empty(t, d.Hazards())
}

func TestRebuildDirtyWithTask(t *testing.T) {
	d, pool, r := newRepo(t, soft.Config{}, time.Second)
	tk, err := pool.NewTask()
	require.NoError(t, err)
	defer tk.Destroy()
	require.NoError(t, r.AddGeometry(1, false, newAABBs(t, d, 3)))
	rep, err := r.RebuildDirty(tk)
	require.NoError(t, err)
	assert.Equal(t, []GeometryID{1}, rep.Built)
	ex := d.Executions()
	require.Len(t, ex, 1)
	assert.Equal(t, soft.ID(tk.Cmd()), soft.ID(ex[0].Cmd))
}

func TestReleasedGeometry(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	require.NoError(t, r.AddGeometry(1, false, newAABBs(t, d, 3)))
	b, _ := r.BLAS(1)
	assert.Len(t, b.Geometry(), 1)
	_, err := r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.True(t, b.Released())
	assert.Nil(t, b.Geometry())
	assert.ErrorIs(t, r.FlagUpdateGeometry(1), ErrReleased)
	assert.Empty(t, r.Dirty())
}

func TestScratchMonotonic(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	var last int64
	for i, n := range []int{50, 2, 400, 10, 399, 1000, 1} {
		require.NoError(t, r.AddGeometry(GeometryID(i), i%2 == 0, newAABBs(t, d, n)))
		b, _ := r.BLAS(GeometryID(i))
		assert.GreaterOrEqual(t, r.ScratchSize(), last)
		assert.GreaterOrEqual(t, r.ScratchSize(), b.ScratchSize())
		assert.GreaterOrEqual(t, r.Scratch().Cap(), r.ScratchSize())
		assert.Zero(t, r.ScratchSize()%d.Limits().ScratchAlign)
		last = r.ScratchSize()
	}
	require.NoError(t, r.ReserveScratch(1))
	assert.Equal(t, last, r.ScratchSize())
	require.NoError(t, r.ReserveScratch(last+1))
	assert.Equal(t, last+d.Limits().ScratchAlign, r.ScratchSize())

	_, err := r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Empty(t, d.Hazards())
}

func TestRemoveGeometry(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	require.NoError(t, r.AddGeometry(1, false, newAABBs(t, d, 3)))
	require.NoError(t, r.AddGeometry(2, false, newAABBs(t, d, 3)))
	require.NoError(t, r.Retain(1))
	assert.ErrorIs(t, r.RemoveGeometry(1), ErrInUse)
	require.NoError(t, r.Release(1))
	assert.Error(t, r.Release(1))
	require.NoError(t, r.RemoveGeometry(1))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []GeometryID{2}, r.Dirty())
	assert.ErrorIs(t, r.Retain(1), ErrNotFound)

	// The freed slot is reused.
	require.NoError(t, r.AddGeometry(3, false, newAABBs(t, d, 3)))
	assert.Equal(t, []GeometryID{3, 2}, r.Dirty())
}

func TestRebuildDirtySkipsFailures(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	for id := range GeometryID(3) {
		require.NoError(t, r.AddGeometry(id, false, newAABBs(t, d, 3)))
	}
	b, _ := r.BLAS(1)
	b.released = true

	rep, err := r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Equal(t, []GeometryID{0, 2}, rep.Built)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, GeometryID(1), rep.Failed[0].ID)
	assert.ErrorIs(t, &rep.Failed[0], ErrReleased)
	assert.Empty(t, r.Dirty())
	assert.False(t, b.Built())
}

func TestRebuildDirtySubmitFailure(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{}, time.Second)
	require.NoError(t, r.AddGeometry(1, false, newAABBs(t, d, 3)))
	require.NoError(t, r.AddGeometry(2, false, newAABBs(t, d, 3)))
	lost := errors.New("device lost")
	d.FailNextSubmit(lost)

	_, err := r.RebuildDirty(nil)
	assert.ErrorIs(t, err, ErrSubmit)
	assert.ErrorIs(t, err, lost)
	assert.Equal(t, []GeometryID{1, 2}, r.Dirty())

	rep, err := r.RebuildDirty(nil)
	require.NoError(t, err)
	assert.Equal(t, []GeometryID{1, 2}, rep.Built)
}

func TestRebuildDirtyTimeout(t *testing.T) {
	d, _, r := newRepo(t, soft.Config{Queues: 1}, 5*time.Millisecond)
	require.NoError(t, r.AddGeometry(1, false, newAABBs(t, d, 3)))
	d.Stall(0, 100*time.Millisecond)

	_, err := r.RebuildDirty(nil)
	assert.ErrorIs(t, err, driver.ErrTimeout)
	assert.Equal(t, []GeometryID{1}, r.Dirty())
	b, _ := r.BLAS(1)
	assert.False(t, b.Released())
	assert.Len(t, b.Geometry(), 1)

	// Nothing the pending pass may use is destroyed or
	// replaced.
	scratch := r.Scratch()
	err = r.RemoveGeometry(1)
	assert.ErrorIs(t, err, ErrInUse)
	assert.ErrorIs(t, err, task.ErrPending)
	_, err = r.BLAS(1)
	assert.NoError(t, err)
	err = r.AddGeometry(2, false, newAABBs(t, d, 256))
	assert.ErrorIs(t, err, task.ErrPending)
	assert.Equal(t, scratch, r.Scratch())
	assert.Equal(t, 1, r.Len())

	d.Stall(0, 0)
	// The next pass waits for the previous one, which may
	// take longer than the timeout.
	for {
		_, err = r.RebuildDirty(nil)
		if !errors.Is(err, driver.ErrTimeout) {
			break
		}
	}
	require.NoError(t, err)
	assert.True(t, b.Built())
	assert.Empty(t, r.Dirty())
	require.NoError(t, r.RemoveGeometry(1))
	assert.Empty(t, d.Hazards())
}
