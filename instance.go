// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/accel/driver"
)

// Transform is a row-major 3x4 affine transform.
type Transform [3][4]float32

// TransformFrom returns the top three rows of m.
func TransformFrom(m mgl32.Mat4) (t Transform) {
	for r := range 3 {
		for c := range 4 {
			t[r][c] = m.At(r, c)
		}
	}
	return
}

// Mat4 returns t as a mgl32.Mat4 whose last row is
// (0, 0, 0, 1).
func (t *Transform) Mat4() mgl32.Mat4 {
	m := mgl32.Ident4()
	for r := range 3 {
		for c := range 4 {
			m.Set(r, c, t[r][c])
		}
	}
	return m
}

// InstanceFlag is the type of instance flags.
type InstanceFlag uint8

// Instance flags.
const (
	DisableCulling InstanceFlag = 1 << iota
	FlipFacing
	ForceOpaque
	ForceNoOpaque
)

// MaxCustomIndex is the largest value of an instance's
// custom index and shader binding table offset.
const MaxCustomIndex = 1<<24 - 1

// Instance is a placement of a BLAS in a TLAS.
type Instance struct {
	Transform Transform
	// CustomIndex is visible to shaders.
	CustomIndex uint32
	// An instance is only considered for rays whose cull
	// mask shares a bit with Mask.
	Mask uint8
	// SBTOffset selects the hit group record.
	SBTOffset uint32
	Flags     InstanceFlag
}

// Check checks that the 24-bit fields of in are in range.
func (in *Instance) Check() error {
	switch {
	case in.CustomIndex > MaxCustomIndex:
		return fmt.Errorf("accel: custom index %d exceeds %d", in.CustomIndex, MaxCustomIndex)
	case in.SBTOffset > MaxCustomIndex:
		return fmt.Errorf("accel: SBT offset %d exceeds %d", in.SBTOffset, MaxCustomIndex)
	}
	return nil
}

// Pack writes in to p, which must be at least
// driver.InstanceSize bytes long, referring to the BLAS
// whose address is addr.
func (in *Instance) Pack(p []byte, addr uint64) {
	_ = p[driver.InstanceSize-1]
	for r := range 3 {
		for c := range 4 {
			binary.LittleEndian.PutUint32(p[(r*4+c)*4:], math32.Float32bits(in.Transform[r][c]))
		}
	}
	binary.LittleEndian.PutUint32(p[48:], in.CustomIndex&MaxCustomIndex|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(p[52:], in.SBTOffset&MaxCustomIndex|uint32(in.Flags)<<24)
	binary.LittleEndian.PutUint64(p[56:], addr)
}

// Unpack reads an instance packed by Pack from p.
// It returns the instance and the BLAS address.
func Unpack(p []byte) (in Instance, addr uint64) {
	_ = p[driver.InstanceSize-1]
	for r := range 3 {
		for c := range 4 {
			in.Transform[r][c] = math32.Float32frombits(binary.LittleEndian.Uint32(p[(r*4+c)*4:]))
		}
	}
	x := binary.LittleEndian.Uint32(p[48:])
	in.CustomIndex, in.Mask = x&MaxCustomIndex, uint8(x>>24)
	x = binary.LittleEndian.Uint32(p[52:])
	in.SBTOffset, in.Flags = x&MaxCustomIndex, InstanceFlag(x>>24)
	addr = binary.LittleEndian.Uint64(p[56:])
	return
}
