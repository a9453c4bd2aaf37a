// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package scene builds top-level acceleration structures
// from instances of geometry stored in an accel.Repository.
//
// Geometry is kept in insertion order, which determines
// the binding index of each geometry and the global index
// of each instance. These indices are what shaders use to
// locate per-geometry and per-instance data, so they do
// not depend on map iteration order.
package scene

import (
	"errors"
	"fmt"
	"log/slog"

	"cogentcore.org/core/base/ordmap"

	"github.com/gviegas/accel"
	"github.com/gviegas/accel/config"
	"github.com/gviegas/accel/driver"
	"github.com/gviegas/accel/task"
)

// ErrInUse means that geometry has instances and cannot
// be removed.
var ErrInUse = errors.New("scene: geometry has instances")

// ErrInvalidTransform means that a transform has elements
// that are not finite.
var ErrInvalidTransform = errors.New("scene: invalid transform")

// Scene manages the instances of a set of geometries and
// the TLAS that places them.
// The Scene does not own bottom-level structures; it
// refers to them by ID through the repository.
// A Scene is not safe for concurrent use.
type Scene struct {
	repo *accel.Repository
	cfg  config.Scene
	log  *slog.Logger
	geom *ordmap.Map[accel.GeometryID, *entry]
	// Whether indices must be reassigned.
	stale bool

	tlas    *accel.TLAS
	inst    *accel.Buffer
	instCap int
	task    *task.Task
	// Task of the last Build.
	last *task.Task
}

// entry is the per-geometry state of a Scene.
type entry struct {
	inst []accel.Instance
	// First global instance index, or -1 if the entry
	// was left out of the last build.
	offset int
	// Whether the last build left the entry out.
	skipped bool
}

// New creates a new Scene.
// Zero values in cfg select defaults; a negative
// MaxGrowthStep removes the cap on growth. If log is nil,
// slog.Default is used.
func New(repo *accel.Repository, cfg config.Scene, log *slog.Logger) *Scene {
	def := config.Default().Scene
	if cfg.InstanceGrowth <= 1 {
		cfg.InstanceGrowth = def.InstanceGrowth
	}
	if cfg.MaxGrowthStep == 0 {
		cfg.MaxGrowthStep = def.MaxGrowthStep
	}
	if cfg.MinInstances < 1 {
		cfg.MinInstances = def.MinInstances
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scene{
		repo: repo,
		cfg:  cfg,
		log:  log.With("component", "scene"),
		geom: ordmap.New[accel.GeometryID, *entry](),
	}
}

// AddGeometry adds geometry to the repository under id
// and to s.
func (s *Scene) AddGeometry(id accel.GeometryID, allowUpdate bool, geoms ...*accel.Geometry) error {
	if _, ok := s.geom.ValueByKeyTry(id); ok {
		return fmt.Errorf("%w: %d", accel.ErrExists, id)
	}
	if err := s.repo.AddGeometry(id, allowUpdate, geoms...); err != nil {
		return err
	}
	return s.Attach(id)
}

// Attach adds to s geometry that is already in the
// repository, possibly shared with other scenes.
func (s *Scene) Attach(id accel.GeometryID) error {
	if _, ok := s.geom.ValueByKeyTry(id); ok {
		return fmt.Errorf("%w: %d", accel.ErrExists, id)
	}
	if err := s.repo.Retain(id); err != nil {
		return err
	}
	s.geom.Add(id, &entry{})
	s.stale = true
	return nil
}

// Detach removes id from s without removing it from the
// repository. It fails with ErrInUse if id has instances.
func (s *Scene) Detach(id accel.GeometryID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if n := len(e.inst); n > 0 {
		return fmt.Errorf("%w: %d has %d instances", ErrInUse, id, n)
	}
	if err := s.repo.Release(id); err != nil {
		return err
	}
	s.geom.DeleteKey(id)
	s.stale = true
	return nil
}

// RemoveGeometry removes id from s and from the
// repository. It fails with ErrInUse if id has instances.
// If other scenes still use id, it is only removed from s.
func (s *Scene) RemoveGeometry(id accel.GeometryID) error {
	if err := s.Detach(id); err != nil {
		return err
	}
	err := s.repo.RemoveGeometry(id)
	if errors.Is(err, accel.ErrInUse) {
		s.log.Debug("geometry still in use elsewhere", "id", id)
		return nil
	}
	return err
}

// FlagUpdateGeometry marks the BLAS of id to be rebuilt
// by the next build.
func (s *Scene) FlagUpdateGeometry(id accel.GeometryID) error {
	if _, err := s.entry(id); err != nil {
		return err
	}
	return s.repo.FlagUpdateGeometry(id)
}

// entry returns the entry of id.
func (s *Scene) entry(id accel.GeometryID) (*entry, error) {
	e, ok := s.geom.ValueByKeyTry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", accel.ErrNotFound, id)
	}
	return e, nil
}

// GeometryIDs returns the IDs of the geometry in s, in
// binding order.
func (s *Scene) GeometryIDs() []accel.GeometryID { return s.geom.Keys() }

// GeometryIndex returns the binding index of id.
func (s *Scene) GeometryIndex(id accel.GeometryID) (int, error) {
	idx, ok := s.geom.IndexByKeyTry(id)
	if !ok {
		return -1, fmt.Errorf("%w: %d", accel.ErrNotFound, id)
	}
	return idx, nil
}

// InstanceGlobalIndex returns the index of the ith
// instance of id in the TLAS.
// Geometry left out of the last build has no global
// indices.
func (s *Scene) InstanceGlobalIndex(id accel.GeometryID, i int) (int, error) {
	e, err := s.entry(id)
	if err != nil {
		return -1, err
	}
	if i < 0 || i >= len(e.inst) {
		return -1, fmt.Errorf("%w: instance %d of geometry %d", accel.ErrNotFound, i, id)
	}
	if s.stale {
		s.assignIndices()
	}
	if e.skipped {
		return -1, fmt.Errorf("%w: geometry %d was left out of the build", accel.ErrNotFound, id)
	}
	return e.offset + i, nil
}

// assignIndices assigns global instance offsets in
// binding order, leaving out skipped entries.
// It returns the number of instances to pack.
func (s *Scene) assignIndices() (n int) {
	for _, kv := range s.geom.Order {
		e := kv.Value
		if e.skipped {
			e.offset = -1
			continue
		}
		e.offset = n
		n += len(e.inst)
	}
	s.stale = false
	return
}

// InstanceCount returns the total number of instances in s.
func (s *Scene) InstanceCount() (n int) {
	for _, kv := range s.geom.Order {
		n += len(kv.Value.inst)
	}
	return
}

// Handle returns the TLAS, or nil if s was never built.
// It changes only when a build sees a different number
// of instances than the previous one.
func (s *Scene) Handle() driver.AccelStruct {
	if s.tlas == nil {
		return nil
	}
	return s.tlas.Handle()
}

// WriteDescriptor returns the descriptor update that
// binds the TLAS of s.
func (s *Scene) WriteDescriptor() driver.DescWrite {
	return driver.DescWrite{
		Type: driver.DAccelStruct,
		AS:   []driver.AccelStruct{s.Handle()},
	}
}

// Destroy destroys the TLAS and instance buffer of s and
// releases its geometry. The geometry stays in the
// repository.
func (s *Scene) Destroy() {
	if s == nil || s.repo == nil {
		return
	}
	if s.last != nil {
		if err := s.last.Wait(); err != nil {
			s.log.Warn("destroying scene with pending build", "err", err)
		}
	}
	s.task.Destroy()
	for _, id := range s.geom.Keys() {
		s.repo.Release(id)
	}
	if s.tlas != nil {
		s.tlas.Destroy()
	}
	s.inst.Destroy()
	*s = Scene{}
}
