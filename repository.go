// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gviegas/accel/config"
	"github.com/gviegas/accel/driver"
	"github.com/gviegas/accel/internal/bitvec"
	"github.com/gviegas/accel/task"
)

// Repository owns the bottom-level structures of a set of
// geometries, keyed by GeometryID.
// Structures are not built when added or flagged for
// update. Instead, they are marked dirty and built
// together by RebuildDirty.
// A Repository is not safe for concurrent use.
type Repository struct {
	gpu   driver.GPU
	pool  *task.Pool
	task  *task.Task
	align int64
	log   *slog.Logger

	blas  slotMap[GeometryID, *repoEntry]
	dirty bitvec.V[uint32]

	scratch     *Buffer
	scratchSize int64
	// Tasks whose work may reference the scratch buffer
	// or a BLAS.
	busy []*task.Task
}

// repoEntry is what a Repository stores per geometry.
type repoEntry struct {
	blas *BLAS
	refs int
}

// Report describes the outcome of a rebuild pass.
type Report struct {
	// Built lists the geometries that were built, in the
	// order their builds executed.
	Built []GeometryID
	// Failed lists the geometries whose builds could not
	// be recorded. They were skipped.
	Failed []BuildError
}

// NewRepository creates a new Repository.
// Builds execute through tasks of pool. If log is nil,
// slog.Default is used.
func NewRepository(gpu driver.GPU, pool *task.Pool, cfg config.Repository, log *slog.Logger) (*Repository, error) {
	if pool == nil {
		return nil, errors.New("accel: nil task pool")
	}
	align := max(cfg.ScratchAlign, gpu.Limits().ScratchAlign, 1)
	if align&(align-1) != 0 {
		return nil, fmt.Errorf("accel: scratch alignment %d is not a power of two", align)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Repository{
		gpu:   gpu,
		pool:  pool,
		align: align,
		log:   log.With("component", "repository"),
	}, nil
}

// GPU returns the GPU that r uses.
func (r *Repository) GPU() driver.GPU { return r.gpu }

// Pool returns the task pool that r uses.
func (r *Repository) Pool() *task.Pool { return r.pool }

// AddGeometry creates a BLAS for geoms and stores it under
// id. The BLAS is marked dirty.
// If allowUpdate is false, the geometry is released after
// the first successful build.
func (r *Repository) AddGeometry(id GeometryID, allowUpdate bool, geoms ...*Geometry) error {
	if _, ok := r.blas.lookup(id); ok {
		return fmt.Errorf("%w: %d", ErrExists, id)
	}
	b, err := newBLAS(r.gpu, id, allowUpdate, geoms)
	if err != nil {
		return err
	}
	if err = r.ReserveScratch(b.ScratchSize()); err != nil {
		b.Destroy()
		return err
	}
	idx := r.blas.insert(id, &repoEntry{blas: b})
	r.dirty.Ensure(idx)
	r.dirty.Set(idx)
	r.log.Debug("geometry added", "id", id, "slot", idx, "size", b.Size(), "update", allowUpdate)
	return nil
}

// FlagUpdateGeometry marks the BLAS of id dirty.
func (r *Repository) FlagUpdateGeometry(id GeometryID) error {
	idx, ok := r.blas.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if r.blas.at(idx).data.blas.released {
		return fmt.Errorf("%w: %d", ErrReleased, id)
	}
	r.dirty.Set(idx)
	return nil
}

// RemoveGeometry destroys the BLAS of id.
// It fails with ErrInUse if id is retained or if work
// that may reference it is still pending.
func (r *Repository) RemoveGeometry(id GeometryID) error {
	e, ok := r.blas.get(id)
	switch {
	case !ok:
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	case e.refs > 0:
		return fmt.Errorf("%w: %d has %d references", ErrInUse, id, e.refs)
	}
	if err := r.settle(); err != nil {
		return fmt.Errorf("%w: %d: %w", ErrInUse, id, err)
	}
	_, idx, _ := r.blas.remove(id)
	r.dirty.Unset(idx)
	e.blas.Destroy()
	r.log.Debug("geometry removed", "id", id, "slot", idx)
	return nil
}

// BLAS returns the BLAS of id.
func (r *Repository) BLAS(id GeometryID) (*BLAS, error) {
	e, ok := r.blas.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e.blas, nil
}

// Retain adds a reference to id, which prevents its
// removal.
func (r *Repository) Retain(id GeometryID) error {
	e, ok := r.blas.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.refs++
	return nil
}

// Release removes a reference added by Retain.
func (r *Repository) Release(id GeometryID) error {
	e, ok := r.blas.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if e.refs == 0 {
		return fmt.Errorf("accel: geometry %d released more than retained", id)
	}
	e.refs--
	return nil
}

// Len returns the number of geometries in r.
func (r *Repository) Len() int { return r.blas.len() }

// IsDirty returns whether id is marked dirty.
func (r *Repository) IsDirty(id GeometryID) bool {
	idx, ok := r.blas.lookup(id)
	return ok && r.dirty.IsSet(idx)
}

// Dirty returns the IDs marked dirty, in build order.
func (r *Repository) Dirty() []GeometryID {
	ids := make([]GeometryID, 0, r.dirty.Count())
	for idx := range r.dirty.Ones() {
		ids = append(ids, r.blas.at(idx).key)
	}
	return ids
}

// RebuildDirty records the builds of every dirty BLAS,
// executes them and waits for completion.
// Builds are recorded in slot order, one per BLAS, and
// share the scratch buffer. If t is nil, r uses a task of
// its own.
//
// A BLAS whose build cannot be recorded is skipped and
// listed in the report; this does not prevent the others
// from building. Either way, the dirty set is empty when
// RebuildDirty returns without error.
// If submission fails, the dirty set is restored and the
// error wraps ErrSubmit. If the wait times out, the dirty
// set is also restored and the error wraps
// driver.ErrTimeout; the task is left pending and the
// next pass waits for it first, as it does for any other
// task registered by Use.
func (r *Repository) RebuildDirty(t *task.Task) (rep Report, err error) {
	if r.dirty.Count() == 0 {
		return
	}
	if t == nil {
		if r.task == nil {
			if r.task, err = r.pool.NewTask(); err != nil {
				return
			}
		}
		t = r.task
	}
	// Pending work may still use the scratch buffer.
	if err = r.settle(); err != nil {
		return
	}
	if err = t.Begin(); err != nil {
		return
	}

	var scratch driver.Buffer
	if r.scratch != nil {
		scratch = r.scratch.Buf()
	}
	var slots []int
	for idx := range r.dirty.Ones() {
		s := r.blas.at(idx)
		if berr := s.data.blas.record(t.Cmd(), scratch); berr != nil {
			rep.Failed = append(rep.Failed, BuildError{s.key, berr})
			r.log.Warn("build skipped", "id", s.key, "err", berr)
		} else {
			slots = append(slots, idx)
		}
		r.dirty.Unset(idx)
	}

	if len(slots) == 0 {
		err = t.End()
		return
	}
	r.Use(t)
	if err = t.Execute(true, nil, nil); err != nil {
		for _, idx := range slots {
			r.dirty.Set(idx)
		}
		if errors.Is(err, task.ErrSubmit) {
			err = fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		r.log.Error("rebuild failed", "builds", len(slots), "err", err)
		return
	}
	for _, idx := range slots {
		s := r.blas.at(idx)
		s.data.blas.complete()
		rep.Built = append(rep.Built, s.key)
	}
	r.log.Debug("rebuild completed", "built", len(rep.Built), "failed", len(rep.Failed))
	return
}

// ReserveScratch grows the scratch buffer, if needed, so
// it holds at least size bytes.
// The scratch buffer never shrinks. It is not replaced
// while work that may use it is pending; the error wraps
// task.ErrPending in that case.
func (r *Repository) ReserveScratch(size int64) error {
	size = (size + r.align - 1) &^ (r.align - 1)
	if size <= r.scratchSize {
		return nil
	}
	if err := r.settle(); err != nil {
		return err
	}
	buf, err := NewBuffer(r.gpu, size, driver.UASScratch, driver.MDeviceLocal)
	if err != nil {
		return err
	}
	r.scratch.Destroy()
	r.scratch = buf
	r.log.Debug("scratch grown", "from", r.scratchSize, "to", size)
	r.scratchSize = size
	return nil
}

// Scratch returns the scratch buffer, or nil if no
// scratch memory was reserved yet.
func (r *Repository) Scratch() driver.Buffer {
	if r.scratch == nil {
		return nil
	}
	return r.scratch.Buf()
}

// ScratchSize returns the size of the scratch buffer.
func (r *Repository) ScratchSize() int64 { return r.scratchSize }

// Use registers t as holding work that references the
// scratch buffer or bottom-level structures of r.
// Such work is waited for before any of them is replaced
// or destroyed. Call Use before executing t.
func (r *Repository) Use(t *task.Task) {
	if t == nil || slices.Contains(r.busy, t) {
		return
	}
	r.busy = append(r.busy, t)
}

// settle waits for the tasks registered by Use and
// forgets the ones that completed.
func (r *Repository) settle() error {
	var errs []error
	busy := r.busy[:0]
	for _, t := range r.busy {
		if err := t.Wait(); err != nil {
			errs = append(errs, err)
			busy = append(busy, t)
		}
	}
	clear(r.busy[len(busy):])
	r.busy = busy
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", task.ErrPending, errors.Join(errs...))
	}
	return nil
}

// Destroy destroys every BLAS in r and the scratch buffer.
func (r *Repository) Destroy() {
	if r == nil || r.gpu == nil {
		return
	}
	if err := r.settle(); err != nil {
		r.log.Warn("destroying repository with pending work", "err", err)
	}
	r.task.Destroy()
	r.blas.all(func(_ int, _ GeometryID, e *repoEntry) bool {
		e.blas.Destroy()
		return true
	})
	r.scratch.Destroy()
	*r = Repository{}
}
