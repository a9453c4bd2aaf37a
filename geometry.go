// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"fmt"

	"github.com/gviegas/accel/driver"
)

// GeometryID identifies geometry in a Repository.
type GeometryID uint64

// GeomFlag is the type of geometry flags.
type GeomFlag = driver.GeomFlag

// Geometry flags.
const (
	// Any-hit shaders are not invoked.
	Opaque = driver.GOpaque
	// The any-hit shader is invoked at most once per
	// primitive.
	NoDuplicateAnyHit = driver.GNoDuplicateAnyHit
)

// Geometry describes the primitives of a bottom-level
// structure. It is immutable.
// The buffers it refers to are not owned by the Geometry
// and must remain valid while a structure may be built
// from it.
type Geometry struct {
	g driver.ASGeometry
}

// NewTriangles creates triangle geometry.
// If idx is driver.IndexNone, then index is ignored and
// every three vertices form a triangle.
func NewTriangles(index, vertex driver.BufferView, vf driver.VertexFmt, idx driver.IndexFmt, flags GeomFlag) (*Geometry, error) {
	vsz := vf.Size()
	if vsz == 0 {
		return nil, fmt.Errorf("%w: vertex format %d", ErrInvalidGeometry, vf)
	}
	if err := checkView("vertex", &vertex, vsz); err != nil {
		return nil, err
	}
	g := driver.ASGeometry{
		Type:      driver.GTriangles,
		Flags:     flags,
		VertexFmt: vf,
		Vertex:    vertex,
		IndexFmt:  idx,
	}
	switch idx {
	case driver.IndexNone:
		if vertex.Count%3 != 0 {
			return nil, fmt.Errorf("%w: vertex count %d is not a multiple of 3", ErrInvalidGeometry, vertex.Count)
		}
	case driver.Index16, driver.Index32:
		if err := checkView("index", &index, int64(idx)); err != nil {
			return nil, err
		}
		if index.Count%3 != 0 {
			return nil, fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidGeometry, index.Count)
		}
		g.Index = index
	default:
		return nil, fmt.Errorf("%w: index format %d", ErrInvalidGeometry, idx)
	}
	return &Geometry{g}, nil
}

// NewAABBs creates axis-aligned bounding box geometry.
// Each element of aabbs holds six float32 values: the
// minimum and maximum corners.
func NewAABBs(aabbs driver.BufferView, flags GeomFlag) (*Geometry, error) {
	if err := checkView("aabb", &aabbs, driver.AABBSize); err != nil {
		return nil, err
	}
	return &Geometry{driver.ASGeometry{
		Type:  driver.GAABBs,
		Flags: flags,
		AABBs: aabbs,
	}}, nil
}

// checkView checks that v describes at least one element
// of elem bytes within the bounds of its buffer.
func checkView(name string, v *driver.BufferView, elem int64) error {
	switch {
	case v.Buf == nil:
		return fmt.Errorf("%w: nil %s buffer", ErrInvalidGeometry, name)
	case v.Count <= 0:
		return fmt.Errorf("%w: %s count %d", ErrInvalidGeometry, name, v.Count)
	case v.Stride < elem:
		return fmt.Errorf("%w: %s stride %d is less than %d", ErrInvalidGeometry, name, v.Stride, elem)
	case v.Off < 0 || v.Off+int64(v.Count-1)*v.Stride+elem > v.Buf.Cap():
		return fmt.Errorf("%w: %s range exceeds buffer capacity %d", ErrInvalidGeometry, name, v.Buf.Cap())
	}
	return nil
}

// Type returns the geometry type.
func (g *Geometry) Type() driver.GeomType { return g.g.Type }

// Flags returns the geometry flags.
func (g *Geometry) Flags() GeomFlag { return g.g.Flags }

// PrimCount returns the number of primitives.
func (g *Geometry) PrimCount() int { return g.g.PrimCount() }
