// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"time"
)

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Queues returns the number of submission queues
	// available. It is at least 1 and immutable for
	// the lifetime of the GPU.
	Queues() int

	// Submit submits a batch of command buffers to the
	// given queue for execution.
	// Execution starts only after every semaphore in
	// wait is signaled. When all commands complete,
	// every semaphore in signal is signaled and then
	// fence, if not nil, is signaled.
	// Command buffers in cb cannot be used for recording
	// until the fence is signaled.
	// An error return means that nothing was submitted.
	Submit(queue int, cb []CmdBuffer, wait, signal []Semaphore, fence Fence) error

	// NewCmdPool creates a new command pool.
	// Command buffers allocated from the pool can be
	// submitted to any queue.
	NewCmdPool() (CmdPool, error)

	// NewFence creates a new fence.
	NewFence(signaled bool) (Fence, error)

	// NewSemaphore creates a new binary semaphore.
	NewSemaphore() (Semaphore, error)

	// MemoryTypes returns the memory types that the
	// device exposes. The index of a type in this slice
	// is the bit that identifies it in MemReq.TypeBits.
	MemoryTypes() []MemoryType

	// NewMemory allocates size bytes of device memory
	// of the given type.
	NewMemory(size int64, typ int) (Memory, error)

	// NewBuffer creates a new buffer.
	// The buffer has no memory bound to it; the caller
	// queries its requirements, allocates a suitable
	// Memory and calls Buffer.Bind.
	NewBuffer(size int64, usg Usage) (Buffer, error)

	// AccelStructSizes computes the storage and scratch
	// sizes required to build the acceleration structure
	// described by info. Only the Type, Flags, Geoms and
	// Instances.Count fields are considered.
	AccelStructSizes(info *ASBuildInfo) ASSizes

	// NewAccelStruct creates a new acceleration structure
	// whose storage is the range [off, off+size) of buf.
	// buf must have been created with UASStorage and have
	// memory bound to it.
	NewAccelStruct(typ ASType, buf Buffer, off, size int64) (AccelStruct, error)

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may allocate external
// memory that is not managed by GC, so Destroy must be
// called explicitly to ensure such memory is deallocated.
type Destroyer interface {
	Destroy()
}

// CmdPool is the interface that defines a command pool,
// from which command buffers are allocated.
// Destroying the pool frees every command buffer that
// was allocated from it.
type CmdPool interface {
	Destroyer

	// Alloc allocates n command buffers.
	Alloc(n int) ([]CmdBuffer, error)

	// Free frees command buffers allocated from the pool.
	// They must not be pending execution.
	Free(cb []CmdBuffer)
}

// CmdBuffer is the interface that defines a command buffer.
// Commands are recorded into command buffers and later
// submitted to the GPU for execution. The usage is as follows:
// First, call Begin to prepare the command buffer for
// recording. Then, if it succeeds, call BuildAccelStruct and
// Barrier as needed. Finally, call End and, if it succeeds,
// GPU.Submit.
type CmdBuffer interface {
	// Begin prepares the command buffer for recording.
	// This method must be called before any command
	// is recorded in the command buffer. It needs to
	// be called again if the command buffer is
	// executed or reset.
	Begin() error

	// BuildAccelStruct builds or updates an acceleration
	// structure.
	// info.Dst must have been created with a size no
	// smaller than the one AccelStructSizes reports for
	// info. The scratch range must be at least as large
	// as the build or update scratch size and it must
	// not be used by another command that may run
	// concurrently.
	BuildAccelStruct(info *ASBuildInfo)

	// Barrier inserts a number of global barriers
	// in the command buffer.
	Barrier(b []Barrier)

	// IsRecording returns whether the command buffer is
	// in the recording state (Begin was called but End
	// was not).
	IsRecording() bool

	// End ends command recording and prepares the
	// command buffer for execution.
	// New recordings are not allowed until the
	// command buffer is executed or reset.
	// Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands from the
	// command buffer.
	Reset() error
}

// Fence is the interface that defines a CPU-observable
// signal of command completion.
type Fence interface {
	Destroyer

	// Wait blocks until the fence is signaled or timeout
	// elapses, in which case it returns ErrTimeout.
	// A negative timeout waits indefinitely.
	Wait(timeout time.Duration) error

	// Signaled returns whether the fence is signaled.
	Signaled() bool

	// Reset puts the fence in the unsignaled state.
	// It must not be called on a fence that is pending
	// completion of submitted work.
	Reset() error
}

// Semaphore is the interface that defines a GPU-side
// synchronization primitive between submissions.
type Semaphore interface {
	Destroyer
}

// Sync is the type of a synchronization scope.
type Sync int

// Synchronization scopes.
const (
	SAccelBuild Sync = 1 << iota
	SRayTracing
	SComputeShading
	SCopy
	SHost
	SAll
	SNone Sync = 0
)

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AAccelRead Access = 1 << iota
	AAccelWrite
	AShaderRead
	AShaderWrite
	ACopyRead
	ACopyWrite
	AHostWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Orders reports whether b orders a command that accesses
// memory with acc1 in scope s1 before a command that
// accesses it with acc2 in scope s2.
func (b *Barrier) Orders(s1 Sync, acc1 Access, s2 Sync, acc2 Access) bool {
	return b.SyncBefore.covers(s1) && b.SyncAfter.covers(s2) &&
		b.AccessBefore.covers(acc1) && b.AccessAfter.covers(acc2)
}

// covers reports whether s includes every scope in want.
func (s Sync) covers(want Sync) bool { return s&SAll != 0 || s&want == want }

// covers reports whether a includes every access in want.
func (a Access) covers(want Access) bool {
	if a&AAnyRead != 0 {
		a |= AAccelRead | AShaderRead | ACopyRead
	}
	if a&AAnyWrite != 0 {
		a |= AAccelWrite | AShaderWrite | ACopyWrite | AHostWrite
	}
	return a&want == want
}

// MemProp is a mask of memory properties.
type MemProp int

// Memory properties.
const (
	// Memory is most efficient for device access.
	MDeviceLocal MemProp = 1 << iota
	// Memory can be mapped for host access.
	MHostVisible
	// Host writes need no explicit flush.
	MHostCoherent
)

// MemoryType describes a type of device memory.
type MemoryType struct {
	Prop MemProp
	Heap int
}

// MemReq describes the memory requirements of a resource.
// TypeBits has bit i set if MemoryTypes()[i] is allowed.
type MemReq struct {
	Size     int64
	Align    int64
	TypeBits uint32
}

// Memory is the interface that defines a device memory
// allocation.
type Memory interface {
	Destroyer

	// Size returns the size of the allocation in bytes.
	Size() int64

	// Type returns the memory type index.
	Type() int

	// Bytes returns a slice of length Size referring to
	// the allocation. If the memory is not host visible,
	// it returns nil instead.
	Bytes() []byte
}

// Usage is a mask indicating valid uses for a buffer.
type Usage int

// Usage flags for Buffer.
const (
	// The buffer can be read in shaders.
	UShaderRead Usage = 1 << iota
	// The buffer can be written in shaders.
	UShaderWrite
	// The buffer can provide vertex data.
	UVertexData
	// The buffer can provide index data.
	UIndexData
	// The buffer can be the source of copies.
	UCopySrc
	// The buffer can be the destination of copies.
	UCopyDst
	// The buffer can be read during acceleration
	// structure builds (geometry and instance data).
	UASInput
	// The buffer can store acceleration structures.
	UASStorage
	// The buffer can be used as build scratch memory.
	UASScratch
	// The buffer can be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
// The size of the buffer is fixed. When a larger buffer
// is necessary, a new one must be created.
type Buffer interface {
	Destroyer

	// Requirements returns the memory requirements of
	// the buffer.
	Requirements() MemReq

	// Bind binds memory to the buffer, starting at off.
	// It can only be called once.
	Bind(mem Memory, off int64) error

	// Bytes returns a slice of length Cap referring to the
	// underlying data. If the buffer has no host-visible
	// memory bound to it, it returns nil instead.
	Bytes() []byte

	// Cap returns the capacity of the buffer in bytes.
	// This value is immutable.
	Cap() int64

	// Addr returns the device address of the buffer.
	// It is zero until memory is bound.
	Addr() uint64
}

// BufferView identifies a strided range of a buffer.
// Count is the number of elements in the range.
type BufferView struct {
	Buf    Buffer
	Off    int64
	Stride int64
	Count  int
}

// Len returns the number of bytes the view spans.
func (v *BufferView) Len() int64 {
	if v.Count <= 0 {
		return 0
	}
	return int64(v.Count) * v.Stride
}

// VertexFmt describes the format of vertex positions.
type VertexFmt int

// Vertex formats.
const (
	Float32x3 VertexFmt = iota
	Float32x2
	Float16x4
	Float16x2
	SNorm16x4
)

// Size returns the size in bytes of one vertex position.
func (f VertexFmt) Size() int64 {
	switch f {
	case Float32x3:
		return 12
	case Float32x2, Float16x4, SNorm16x4:
		return 8
	case Float16x2:
		return 4
	}
	return 0
}

// IndexFmt describes the format of index buffer data.
type IndexFmt int

// Index formats.
const (
	IndexNone IndexFmt = 0
	Index16   IndexFmt = 2
	Index32   IndexFmt = 4
)

// ASType is the type of an acceleration structure.
type ASType int

// Acceleration structure types.
const (
	// ABottom structures index geometry.
	ABottom ASType = iota
	// ATop structures index instances of
	// bottom structures.
	ATop
)

// ASFlag is a mask of acceleration structure build flags.
type ASFlag int

// Acceleration structure build flags.
const (
	AAllowUpdate ASFlag = 1 << iota
	AAllowCompaction
	AFastTrace
	AFastBuild
	ALowMemory
)

// ASMode is the mode of a build command.
type ASMode int

// Build modes.
const (
	// ABuild builds from scratch.
	ABuild ASMode = iota
	// AUpdate refits a structure previously built
	// with AAllowUpdate. Src and Dst may be equal.
	AUpdate
)

// GeomType is the type of bottom-level geometry.
type GeomType int

// Geometry types.
const (
	GTriangles GeomType = iota
	GAABBs
)

// GeomFlag is a mask of geometry flags.
type GeomFlag int

// Geometry flags.
const (
	GOpaque GeomFlag = 1 << iota
	GNoDuplicateAnyHit
)

// AABBSize is the size in bytes of one axis-aligned
// bounding box (min and max, three float32 each).
const AABBSize = 24

// InstanceSize is the size in bytes of one packed
// top-level instance.
const InstanceSize = 64

// ASGeometry describes one geometry of a bottom-level
// build.
type ASGeometry struct {
	Type  GeomType
	Flags GeomFlag

	// Valid when Type is GTriangles.
	VertexFmt VertexFmt
	Vertex    BufferView
	IndexFmt  IndexFmt
	Index     BufferView

	// Valid when Type is GAABBs.
	AABBs BufferView
}

// PrimCount returns the number of primitives in g.
func (g *ASGeometry) PrimCount() int {
	switch g.Type {
	case GTriangles:
		if g.IndexFmt == IndexNone {
			return g.Vertex.Count / 3
		}
		return g.Index.Count / 3
	case GAABBs:
		return g.AABBs.Count
	}
	return 0
}

// ASBuildInfo describes a build or update command.
type ASBuildInfo struct {
	Type  ASType
	Flags ASFlag
	Mode  ASMode
	Src   AccelStruct
	Dst   AccelStruct

	// Geoms is used by bottom-level builds.
	Geoms []ASGeometry
	// Instances is used by top-level builds. Its stride
	// must be InstanceSize.
	Instances BufferView

	Scratch    Buffer
	ScratchOff int64
}

// ASSizes describes the memory needed to build an
// acceleration structure.
type ASSizes struct {
	Size          int64
	BuildScratch  int64
	UpdateScratch int64
}

// AccelStruct is the interface that defines a ray tracing
// acceleration structure.
// Its storage belongs to the buffer from which it was
// created, which must outlive it.
type AccelStruct interface {
	Destroyer

	// Type returns the type of the structure.
	Type() ASType

	// Addr returns the device address of the structure.
	// It is used to reference bottom-level structures
	// from top-level instances.
	Addr() uint64
}

// DescType is the type of a descriptor.
type DescType int

// Descriptor types.
const (
	// Read/write buffer.
	DBuffer DescType = iota
	// Constant buffer.
	DConstant
	// Acceleration structure.
	DAccelStruct
)

// DescWrite describes an update to a descriptor.
// For DAccelStruct descriptors, AS holds one structure
// per array element.
type DescWrite struct {
	Type DescType
	Nr   int
	AS   []AccelStruct
}

// Limits describes implementation limits.
// These may vary across drivers and devices.
type Limits struct {
	// Maximum number of geometries in a bottom-level
	// structure.
	MaxGeometries int
	// Maximum number of primitives in a bottom-level
	// structure.
	MaxPrimitives int
	// Maximum number of instances in a top-level
	// structure.
	MaxInstances int
	// Required alignment of scratch memory offsets.
	ScratchAlign int64
}
