// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package scene

import (
	"errors"
	"fmt"

	"github.com/gviegas/accel"
	"github.com/gviegas/accel/driver"
	"github.com/gviegas/accel/task"
)

var errNotBuilt = errors.New("scene: BLAS not built")

// Record prepares the TLAS of s and records its build
// into cb, which must be recording.
//
// Dirty bottom-level structures are rebuilt first, and
// this blocks until they complete. Then every instance is
// packed, in binding order, into the instance buffer, and
// the TLAS is recreated if the number of instances
// changed. Geometry whose BLAS does not exist or failed
// to build is left out and listed in the report.
//
// cb must execute before the next call to Record. Since
// recreating the TLAS may replace the repository's scratch
// buffer, scenes sharing a repository must not record into
// the same command buffer.
// Record does not mark the TLAS built. Build does so once
// the execution completes; callers that execute cb
// themselves call Complete instead.
func (s *Scene) Record(cb driver.CmdBuffer) (rep accel.Report, err error) {
	if s.last != nil && s.last.Pending() {
		// The instance buffer and TLAS may still be read.
		if err = s.last.Wait(); err != nil {
			err = fmt.Errorf("%w: %w", task.ErrPending, err)
			return
		}
	}
	if rep, err = s.repo.RebuildDirty(nil); err != nil {
		return
	}

	failed := make(map[accel.GeometryID]bool, len(rep.Failed))
	for _, f := range rep.Failed {
		failed[f.ID] = true
	}
	blas := make([]uint64, 0, s.geom.Len())
	for _, kv := range s.geom.Order {
		e := kv.Value
		b, err := s.repo.BLAS(kv.Key)
		if err == nil && !b.Built() {
			err = errNotBuilt
		}
		if e.skipped = err != nil; e.skipped {
			if len(e.inst) > 0 && !failed[kv.Key] {
				rep.Failed = append(rep.Failed, accel.BuildError{ID: kv.Key, Err: err})
				s.log.Warn("geometry left out", "id", kv.Key, "err", err)
			}
			continue
		}
		blas = append(blas, b.Handle().Addr())
	}
	n := s.assignIndices()

	if err = s.reserveInstances(n); err != nil {
		return
	}
	p := s.inst.Bytes()
	i := 0
	for _, kv := range s.geom.Order {
		e := kv.Value
		if e.skipped {
			continue
		}
		for j := range e.inst {
			off := (e.offset + j) * driver.InstanceSize
			e.inst[j].Pack(p[off:off+driver.InstanceSize], blas[i])
		}
		i++
	}

	if s.tlas == nil || s.tlas.Count() != n {
		if err = s.recreateTLAS(n); err != nil {
			return
		}
	}
	err = s.tlas.Record(cb, s.inst, s.repo.Scratch(), 0)
	return
}

// recreateTLAS replaces the TLAS with one for n instances
// and reserves scratch memory for its build.
// The TLAS allows updates, so the scratch reserved covers
// both modes, but Record always builds it in full.
func (s *Scene) recreateTLAS(n int) error {
	tlas, err := accel.NewTLAS(s.repo.GPU(), n, true)
	if err != nil {
		return err
	}
	if err = s.repo.ReserveScratch(tlas.ScratchSize()); err != nil {
		tlas.Destroy()
		return err
	}
	if s.tlas != nil {
		s.log.Debug("TLAS recreated", "from", s.tlas.Count(), "to", n)
		s.tlas.Destroy()
	}
	s.tlas = tlas
	return nil
}

// instanceCap returns the instance buffer capacity to use
// for n instances, given the current capacity.
func (s *Scene) instanceCap(n int) int {
	c := max(s.instCap, s.cfg.MinInstances)
	for c < n {
		next := max(int(float64(c)*s.cfg.InstanceGrowth), c+1)
		if s.cfg.MaxGrowthStep >= 0 {
			next = min(next, c+s.cfg.MaxGrowthStep)
		}
		c = next
	}
	return c
}

// reserveInstances grows the instance buffer, if needed,
// so it holds at least n instances.
func (s *Scene) reserveInstances(n int) error {
	if s.inst != nil && n <= s.instCap {
		return nil
	}
	c := s.instanceCap(n)
	buf, err := accel.NewBuffer(s.repo.GPU(), int64(c)*driver.InstanceSize, driver.UASInput,
		driver.MHostVisible|driver.MHostCoherent)
	if err != nil {
		return fmt.Errorf("scene: instance buffer: %w", err)
	}
	s.log.Debug("instance buffer grown", "from", s.instCap, "to", c)
	s.inst.Destroy()
	s.inst = buf
	s.instCap = c
	return nil
}

// InstanceCap returns the capacity of the instance buffer.
func (s *Scene) InstanceCap() int { return s.instCap }

// Build records the build of s into t, executes it and
// waits for completion. If t is nil, s uses a task of its
// own.
// The TLAS is marked built only if the execution
// completes. If the wait times out, t is left pending and
// the resources it references are not replaced until it
// completes.
func (s *Scene) Build(t *task.Task) (rep accel.Report, err error) {
	if t == nil {
		if s.task == nil {
			if s.task, err = s.repo.Pool().NewTask(); err != nil {
				return
			}
		}
		t = s.task
	}
	if err = t.Begin(); err != nil {
		return
	}
	if rep, err = s.Record(t.Cmd()); err != nil {
		t.Cmd().Reset()
		return
	}
	s.repo.Use(t)
	s.last = t
	if err = t.Execute(true, nil, nil); err != nil {
		return
	}
	s.Complete()
	return
}

// Complete marks the TLAS recorded by the last call to
// Record as built. Call it only after that recording has
// executed.
func (s *Scene) Complete() {
	if s.tlas != nil {
		s.tlas.Complete()
	}
}
