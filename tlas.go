// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"fmt"

	"github.com/gviegas/accel/driver"
)

// TLAS is a top-level acceleration structure sized for a
// fixed number of instances.
type TLAS struct {
	AccelStruct
	count int
}

// NewTLAS creates a TLAS for count instances.
// It does not record a build.
func NewTLAS(gpu driver.GPU, count int, allowUpdate bool) (*TLAS, error) {
	if lim := gpu.Limits().MaxInstances; count < 0 || count > lim {
		return nil, fmt.Errorf("accel: instance count %d out of range [0, %d]", count, lim)
	}
	flags := driver.AFastTrace
	if allowUpdate {
		flags |= driver.AAllowUpdate
	}
	info := driver.ASBuildInfo{
		Type:      driver.ATop,
		Flags:     flags,
		Instances: driver.BufferView{Stride: driver.InstanceSize, Count: count},
	}
	t := &TLAS{count: count}
	if err := t.init(gpu, &info); err != nil {
		return nil, err
	}
	return t, nil
}

// Count returns the number of instances t holds.
func (t *TLAS) Count() int { return t.count }

// Record records a full build of t into cb.
// instances must hold exactly t.Count() packed instances.
// t is considered built once the caller calls Complete,
// which it must do only after the build executes.
func (t *TLAS) Record(cb driver.CmdBuffer, instances *Buffer, scratch driver.Buffer, off int64) error {
	if instances.Cap() < int64(t.count)*driver.InstanceSize {
		return fmt.Errorf("accel: instance buffer holds less than %d instances", t.count)
	}
	info := driver.ASBuildInfo{
		Instances: driver.BufferView{Buf: instances.Buf(), Stride: driver.InstanceSize, Count: t.count},
	}
	return t.record(cb, &info, scratch, off, false)
}

// Complete marks t as built.
func (t *TLAS) Complete() { t.built = true }
