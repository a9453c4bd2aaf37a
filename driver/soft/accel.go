// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"fmt"

	"github.com/gviegas/accel/driver"
)

// accelStruct implements driver.AccelStruct.
type accelStruct struct {
	d    *Driver
	typ  driver.ASType
	buf  *buffer
	off  int64
	size int64
	addr uint64

	// Execution state, guarded by d.mu.
	built     bool
	flags     driver.ASFlag
	builds    int
	updates   int
	prims     int
	instances int
	refs      []uint64
}

// NewAccelStruct creates a new acceleration structure.
func (d *Driver) NewAccelStruct(typ driver.ASType, buf driver.Buffer, off, size int64) (driver.AccelStruct, error) {
	if !d.open {
		return nil, errClosed
	}
	b, ok := buf.(*buffer)
	switch {
	case !ok || b.d != d:
		return nil, errors.New("soft: buffer from another driver")
	case b.usg&driver.UASStorage == 0:
		return nil, errors.New("soft: buffer lacks UASStorage usage")
	case b.mem == nil:
		return nil, errors.New("soft: buffer has no memory bound")
	case off < 0 || size <= 0 || off+size > b.size || off%bufferAlign != 0:
		return nil, fmt.Errorf("soft: invalid structure range [%d, %d) of %d", off, off+size, b.size)
	}
	as := &accelStruct{
		d:    d,
		typ:  typ,
		buf:  b,
		off:  off,
		size: size,
		addr: b.addr + uint64(off),
	}
	d.mu.Lock()
	d.structs[as.addr] = as
	d.mu.Unlock()
	return as, nil
}

// Type returns the structure type.
func (as *accelStruct) Type() driver.ASType { return as.typ }

// Addr returns the device address of the structure.
func (as *accelStruct) Addr() uint64 { return as.addr }

// Destroy destroys the structure.
func (as *accelStruct) Destroy() {
	if as == nil || as.d == nil {
		return
	}
	d := as.d
	d.mu.Lock()
	if d.structs[as.addr] == as {
		delete(d.structs, as.addr)
	}
	*as = accelStruct{}
	d.mu.Unlock()
}

// AccelStructSizes computes the sizes required to build
// the structure that info describes.
// The model is linear in the number of primitives or
// instances, which keeps sizes deterministic for tests.
func (d *Driver) AccelStructSizes(info *driver.ASBuildInfo) driver.ASSizes {
	var n, base, per int64
	switch info.Type {
	case driver.ABottom:
		for i := range info.Geoms {
			n += int64(info.Geoms[i].PrimCount())
		}
		base, per = 1024, 64
	case driver.ATop:
		n = int64(max(info.Instances.Count, 0))
		base, per = 1024, 128
	}
	a := d.cfg.Limits.ScratchAlign
	if a <= 0 {
		a = defaultScratchAlign
	}
	sz := driver.ASSizes{
		Size:         alignUp(base+per*n, bufferAlign),
		BuildScratch: alignUp(base/2+per/2*n, a),
	}
	if info.Flags&driver.AAllowUpdate != 0 {
		sz.UpdateScratch = alignUp(base/4+per/4*n, a)
	}
	return sz
}

// ASStat describes the execution state of an acceleration
// structure.
type ASStat struct {
	Built     bool
	Flags     driver.ASFlag
	Builds    int
	Updates   int
	Prims     int
	Instances int
	// Addresses of the bottom-level structures that a
	// top-level structure references, in instance order.
	Refs []uint64
}

// Stat returns the execution state of as, which must have
// been created by d.
func (d *Driver) Stat(as driver.AccelStruct) ASStat {
	a := as.(*accelStruct)
	d.mu.Lock()
	defer d.mu.Unlock()
	return ASStat{
		Built:     a.built,
		Flags:     a.flags,
		Builds:    a.builds,
		Updates:   a.updates,
		Prims:     a.prims,
		Instances: a.instances,
		Refs:      append([]uint64(nil), a.refs...),
	}
}
