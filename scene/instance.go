// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package scene

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/accel"
)

// InstanceData is the per-instance data other than the
// transform.
type InstanceData struct {
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       accel.InstanceFlag
}

// newInstance returns an instance with identity transform
// that is visible to every ray.
func newInstance() accel.Instance {
	return accel.Instance{
		Transform: accel.TransformFrom(mgl32.Ident4()),
		Mask:      0xff,
	}
}

// checkTransform checks that the elements of t are finite.
func checkTransform(t *accel.Transform) error {
	for r := range t {
		for c, x := range t[r] {
			if math32.IsNaN(x) || math32.IsInf(x, 0) {
				return fmt.Errorf("%w: element (%d, %d) is %v", ErrInvalidTransform, r, c, x)
			}
		}
	}
	return nil
}

// SetInstanceCount sets the number of instances of id.
// New instances have identity transform and a full mask.
func (s *Scene) SetInstanceCount(id accel.GeometryID, n int) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("scene: invalid instance count %d", n)
	}
	for len(e.inst) < n {
		e.inst = append(e.inst, newInstance())
	}
	clear(e.inst[n:])
	e.inst = e.inst[:n]
	s.stale = true
	return nil
}

// AddInstance appends an instance of id.
// It returns the index of the new instance within id.
func (s *Scene) AddInstance(id accel.GeometryID, in accel.Instance) (int, error) {
	e, err := s.entry(id)
	if err != nil {
		return -1, err
	}
	if err := in.Check(); err != nil {
		return -1, err
	}
	if err := checkTransform(&in.Transform); err != nil {
		return -1, err
	}
	e.inst = append(e.inst, in)
	s.stale = true
	return len(e.inst) - 1, nil
}

// instance returns the ith instance of id.
func (s *Scene) instance(id accel.GeometryID, i int) (*accel.Instance, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(e.inst) {
		return nil, fmt.Errorf("%w: instance %d of geometry %d", accel.ErrNotFound, i, id)
	}
	return &e.inst[i], nil
}

// Instance returns the ith instance of id.
func (s *Scene) Instance(id accel.GeometryID, i int) (accel.Instance, error) {
	in, err := s.instance(id, i)
	if err != nil {
		return accel.Instance{}, err
	}
	return *in, nil
}

// SetInstanceTransform sets the transform of the ith
// instance of id from the column-major matrix m.
// The last row of m is ignored.
func (s *Scene) SetInstanceTransform(id accel.GeometryID, i int, m mgl32.Mat4) error {
	in, err := s.instance(id, i)
	if err != nil {
		return err
	}
	t := accel.TransformFrom(m)
	if err := checkTransform(&t); err != nil {
		return err
	}
	in.Transform = t
	return nil
}

// InstanceTransform returns the transform of the ith
// instance of id.
func (s *Scene) InstanceTransform(id accel.GeometryID, i int) (accel.Transform, error) {
	in, err := s.instance(id, i)
	if err != nil {
		return accel.Transform{}, err
	}
	return in.Transform, nil
}

// SetInstanceData sets the data of the ith instance of id.
func (s *Scene) SetInstanceData(id accel.GeometryID, i int, data InstanceData) error {
	in, err := s.instance(id, i)
	if err != nil {
		return err
	}
	x := accel.Instance{
		Transform:   in.Transform,
		CustomIndex: data.CustomIndex,
		Mask:        data.Mask,
		SBTOffset:   data.SBTOffset,
		Flags:       data.Flags,
	}
	if err := x.Check(); err != nil {
		return err
	}
	*in = x
	return nil
}
