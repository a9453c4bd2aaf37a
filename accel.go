// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"fmt"

	"github.com/gviegas/accel/driver"
)

// AccelStruct is the state shared by bottom-level and
// top-level structures: the device structure, its backing
// storage and the sizes computed for its build.
type AccelStruct struct {
	gpu   driver.GPU
	store *Buffer
	as    driver.AccelStruct
	typ   driver.ASType
	flags driver.ASFlag
	sizes driver.ASSizes
	built bool
}

// asBarrier orders acceleration structure builds that
// follow it after the ones that precede it.
var asBarrier = []driver.Barrier{{
	SyncBefore:   driver.SAccelBuild,
	SyncAfter:    driver.SAccelBuild,
	AccessBefore: driver.AAccelWrite,
	AccessAfter:  driver.AAccelRead | driver.AAccelWrite,
}}

// init creates the device structure that info describes.
func (a *AccelStruct) init(gpu driver.GPU, info *driver.ASBuildInfo) error {
	sizes := gpu.AccelStructSizes(info)
	store, err := NewBuffer(gpu, sizes.Size, driver.UASStorage, driver.MDeviceLocal)
	if err != nil {
		return err
	}
	as, err := gpu.NewAccelStruct(info.Type, store.Buf(), 0, sizes.Size)
	if err != nil {
		store.Destroy()
		return err
	}
	*a = AccelStruct{
		gpu:   gpu,
		store: store,
		as:    as,
		typ:   info.Type,
		flags: info.Flags,
		sizes: sizes,
	}
	return nil
}

// record records a command that builds a into cb, using
// scratch memory at off, followed by a barrier.
// If update is true and a was built before with updates
// allowed, the command updates it instead.
func (a *AccelStruct) record(cb driver.CmdBuffer, info *driver.ASBuildInfo, scratch driver.Buffer, off int64, update bool) error {
	info.Type = a.typ
	info.Flags = a.flags
	info.Dst = a.as
	info.Src = nil
	info.Mode = driver.ABuild
	need := a.sizes.BuildScratch
	if update && a.built && a.AllowUpdate() {
		info.Mode = driver.AUpdate
		info.Src = a.as
		need = a.sizes.UpdateScratch
	}
	if scratch == nil || scratch.Cap()-off < need {
		var have int64
		if scratch != nil {
			have = scratch.Cap() - off
		}
		return fmt.Errorf("%w: have %d bytes, need %d", ErrScratchTooSmall, have, need)
	}
	info.Scratch = scratch
	info.ScratchOff = off
	cb.BuildAccelStruct(info)
	cb.Barrier(asBarrier)
	return nil
}

// Handle returns the device structure.
func (a *AccelStruct) Handle() driver.AccelStruct { return a.as }

// Type returns the structure type.
func (a *AccelStruct) Type() driver.ASType { return a.typ }

// Size returns the size in bytes of the structure storage.
func (a *AccelStruct) Size() int64 { return a.sizes.Size }

// Built returns whether a build of the structure has
// completed.
func (a *AccelStruct) Built() bool { return a.built }

// AllowUpdate returns whether the structure can be updated
// in place after its first build.
func (a *AccelStruct) AllowUpdate() bool { return a.flags&driver.AAllowUpdate != 0 }

// ScratchSize returns the amount of scratch memory that
// building or updating the structure requires.
func (a *AccelStruct) ScratchSize() int64 {
	if a.AllowUpdate() {
		return max(a.sizes.BuildScratch, a.sizes.UpdateScratch)
	}
	return a.sizes.BuildScratch
}

// Destroy destroys the structure and its storage.
func (a *AccelStruct) Destroy() {
	if a == nil || a.as == nil {
		return
	}
	a.as.Destroy()
	a.store.Destroy()
	*a = AccelStruct{}
}
