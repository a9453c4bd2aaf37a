// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"fmt"

	"github.com/gviegas/accel/driver"
)

// Buffer is a GPU buffer with its own memory allocation.
type Buffer struct {
	buf driver.Buffer
	mem driver.Memory
}

// NewBuffer creates a buffer of the given size and binds
// it to a new allocation whose memory type has every
// property in prop.
// It returns ErrNoMemoryType if the device has no such
// memory type that the buffer can use.
func NewBuffer(gpu driver.GPU, size int64, usg driver.Usage, prop driver.MemProp) (*Buffer, error) {
	buf, err := gpu.NewBuffer(size, usg)
	if err != nil {
		return nil, err
	}
	req := buf.Requirements()
	typ := selectMemory(gpu.MemoryTypes(), req.TypeBits, prop)
	if typ == -1 {
		buf.Destroy()
		return nil, fmt.Errorf("%w: properties %#x, allowed types %#b", ErrNoMemoryType, prop, req.TypeBits)
	}
	mem, err := gpu.NewMemory(req.Size, typ)
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	if err = buf.Bind(mem, 0); err != nil {
		buf.Destroy()
		mem.Destroy()
		return nil, err
	}
	return &Buffer{buf, mem}, nil
}

// selectMemory selects the first memory type that
// typeBits allows and that has every property in prop.
// It returns -1 if none suffices.
func selectMemory(types []driver.MemoryType, typeBits uint32, prop driver.MemProp) int {
	for i := range types {
		if i >= 32 {
			break
		}
		if 1<<i&typeBits != 0 && types[i].Prop&prop == prop {
			return i
		}
	}
	return -1
}

// Buf returns the driver buffer.
func (b *Buffer) Buf() driver.Buffer { return b.buf }

// Cap returns the capacity of the buffer in bytes.
func (b *Buffer) Cap() int64 { return b.buf.Cap() }

// Bytes returns the host view of the buffer. It is nil if
// the memory is not host visible.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// Destroy destroys the buffer and frees its memory.
func (b *Buffer) Destroy() {
	if b == nil || b.buf == nil {
		return
	}
	b.buf.Destroy()
	b.mem.Destroy()
	*b = Buffer{}
}
