// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"fmt"

	"github.com/gviegas/accel/driver"
)

// BLAS is a bottom-level acceleration structure.
// Its handle does not change during its lifetime, so
// top-level instances can refer to it by address.
type BLAS struct {
	AccelStruct
	id       GeometryID
	geoms    []*Geometry
	released bool
}

// newBLAS creates a BLAS for the given geometry.
// It does not record a build.
func newBLAS(gpu driver.GPU, id GeometryID, allowUpdate bool, geoms []*Geometry) (*BLAS, error) {
	if len(geoms) == 0 {
		return nil, fmt.Errorf("%w: no geometry", ErrInvalidGeometry)
	}
	lim := gpu.Limits()
	if len(geoms) > lim.MaxGeometries {
		return nil, fmt.Errorf("%w: %d geometries exceed limit of %d", ErrInvalidGeometry, len(geoms), lim.MaxGeometries)
	}
	prims := 0
	for _, g := range geoms {
		if g == nil {
			return nil, fmt.Errorf("%w: nil geometry", ErrInvalidGeometry)
		}
		if g.Type() != geoms[0].Type() {
			return nil, fmt.Errorf("%w: triangles and AABBs mixed", ErrInvalidGeometry)
		}
		prims += g.PrimCount()
	}
	if prims > lim.MaxPrimitives {
		return nil, fmt.Errorf("%w: %d primitives exceed limit of %d", ErrInvalidGeometry, prims, lim.MaxPrimitives)
	}
	b := &BLAS{id: id, geoms: append([]*Geometry(nil), geoms...)}
	flags := driver.AFastTrace
	if allowUpdate {
		flags |= driver.AAllowUpdate
	}
	info := b.buildInfo(flags)
	if err := b.init(gpu, &info); err != nil {
		return nil, err
	}
	return b, nil
}

// buildInfo returns the build description of b without
// destination or scratch.
func (b *BLAS) buildInfo(flags driver.ASFlag) driver.ASBuildInfo {
	g := make([]driver.ASGeometry, len(b.geoms))
	for i := range b.geoms {
		g[i] = b.geoms[i].g
	}
	return driver.ASBuildInfo{Type: driver.ABottom, Flags: flags, Geoms: g}
}

// record records the build of b into cb.
func (b *BLAS) record(cb driver.CmdBuffer, scratch driver.Buffer) error {
	if b.released {
		return ErrReleased
	}
	info := b.buildInfo(b.flags)
	return b.AccelStruct.record(cb, &info, scratch, 0, true)
}

// complete marks b as built. Geometry of a BLAS that
// cannot be updated is no longer needed, so it is
// released.
func (b *BLAS) complete() {
	b.built = true
	if !b.AllowUpdate() {
		b.geoms = nil
		b.released = true
	}
}

// ID returns the geometry ID of b.
func (b *BLAS) ID() GeometryID { return b.id }

// Geometry returns the geometry of b, or nil if it was
// released.
func (b *BLAS) Geometry() []*Geometry { return b.geoms }

// Released returns whether the geometry of b was released.
func (b *BLAS) Released() bool { return b.released }
