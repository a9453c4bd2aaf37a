// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package bitvec

import (
	"slices"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNbit(t *testing.T) {
	for _, x := range [...][2]int{
		{int(unsafe.Sizeof(uint(0))) * 8, (&V[uint]{}).nbit()},
		{int(unsafe.Sizeof(uint8(0))) * 8, (&V[uint8]{}).nbit()},
		{int(unsafe.Sizeof(uint16(0))) * 8, (&V[uint16]{}).nbit()},
		{int(unsafe.Sizeof(uint32(0))) * 8, (&V[uint32]{}).nbit()},
		{int(unsafe.Sizeof(uint64(0))) * 8, (&V[uint64]{}).nbit()},
		{int(unsafe.Sizeof(uintptr(0))) * 8, (&V[uintptr]{}).nbit()},
	} {
		assert.Equal(t, x[0], x[1], "V[T].nbit")
	}
}

func TestZero(t *testing.T) {
	var v16 V[uint16]
	assert.Zero(t, v16.Len())
	assert.Zero(t, v16.Rem())
	_, ok := v16.Search()
	assert.False(t, ok)
	assert.False(t, v16.IsSet(3), "out of range bit reported as set")
}

func TestGrowEnsure(t *testing.T) {
	var v32 V[uint32]
	for _, x := range [...]struct {
		nplus, wantLen int
	}{
		{1, 32},
		{2, 96},
		{0, 96},
		{-1, 96},
		{16, 608},
	} {
		n := v32.Len()
		require.Equal(t, n, v32.Grow(x.nplus), "v32.Grow(%d)", x.nplus)
		assert.Equal(t, x.wantLen, v32.Len(), "v32.Grow(%d): Len", x.nplus)
		assert.Equal(t, x.wantLen, v32.Rem(), "v32.Grow(%d): Rem", x.nplus)
	}
	var v8 V[uint8]
	for _, x := range [...]struct {
		index, wantLen int
	}{
		{0, 8},
		{8, 16},
		{40, 48},
		{3, 48},
	} {
		v8.Ensure(x.index)
		assert.Equal(t, x.wantLen, v8.Len(), "v8.Ensure(%d): Len", x.index)
	}
}

func TestSetUnset(t *testing.T) {
	var v8 V[uint8]
	v8.Grow(2)
	v8.Set(6)
	v8.Set(6)
	v8.Set(9)
	assert.Equal(t, []uint8{0x40, 0x02}, v8.s)
	assert.Equal(t, 2, v8.Count())
	assert.True(t, v8.IsSet(6))
	assert.True(t, v8.IsSet(9))
	assert.False(t, v8.IsSet(7))
	v8.Unset(6)
	v8.Unset(6)
	assert.Equal(t, 15, v8.Rem())
}

func TestSearch(t *testing.T) {
	var v16 V[uint16]
	v16.Grow(2)
	for i := range 20 {
		idx, ok := v16.Search()
		require.True(t, ok)
		require.Equal(t, i, idx)
		v16.Set(idx)
	}
	v16.Unset(3)
	idx, _ := v16.Search()
	assert.Equal(t, 3, idx)
	for i := 0; i < v16.Len(); i++ {
		v16.Set(i)
	}
	_, ok := v16.Search()
	assert.False(t, ok, "search succeeded on full vector")
}

func TestClear(t *testing.T) {
	var v64 V[uint64]
	v64.Grow(3)
	for _, i := range [...]int{0, 63, 64, 190} {
		v64.Set(i)
	}
	v64.Clear()
	assert.Equal(t, v64.Len(), v64.Rem())
	assert.Equal(t, make([]uint64, 3), v64.s)
}

func TestOnes(t *testing.T) {
	var v32 V[uint32]
	v32.Grow(4)
	want := []int{0, 5, 31, 32, 77, 127}
	for _, i := range slices.Backward(want) {
		v32.Set(i)
	}
	assert.Equal(t, want, slices.Collect(v32.Ones()))

	// Unsetting the yielded bit is allowed.
	for i := range v32.Ones() {
		v32.Unset(i)
	}
	assert.Zero(t, v32.Count())
	var have []int
	for i := range v32.Ones() {
		have = append(have, i)
		if len(have) == 2 {
			break
		}
	}
	assert.Empty(t, have)
}
