// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/accel/driver"
	"github.com/gviegas/accel/driver/soft"
)

func openSoft(t *testing.T, cfg soft.Config) *soft.Driver {
	t.Helper()
	d := soft.New(cfg)
	_, err := d.Open()
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

// newAABBs creates AABB geometry with n boxes.
func newAABBs(t *testing.T, gpu driver.GPU, n int) *Geometry {
	t.Helper()
	buf, err := NewBuffer(gpu, int64(n)*driver.AABBSize, driver.UASInput, driver.MHostVisible)
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	g, err := NewAABBs(driver.BufferView{Buf: buf.Buf(), Stride: driver.AABBSize, Count: n}, Opaque)
	require.NoError(t, err)
	return g
}

func TestSelectMemory(t *testing.T) {
	types := []driver.MemoryType{
		{Prop: driver.MDeviceLocal},
		{Prop: driver.MHostVisible | driver.MHostCoherent},
		{Prop: driver.MDeviceLocal | driver.MHostVisible | driver.MHostCoherent},
	}
	for _, x := range [...]struct {
		bits uint32
		prop driver.MemProp
		want int
	}{
		{0b111, driver.MDeviceLocal, 0},
		{0b110, driver.MDeviceLocal, 2},
		{0b111, driver.MHostVisible | driver.MHostCoherent, 1},
		{0b001, driver.MHostVisible, -1},
		{0b000, 0, -1},
		{0b100, 0, 2},
	} {
		assert.Equal(t, x.want, selectMemory(types, x.bits, x.prop), "bits %#b prop %#x", x.bits, x.prop)
	}
}

func TestNewBufferNoMemoryType(t *testing.T) {
	d := openSoft(t, soft.Config{MemoryTypes: []driver.MemoryType{{Prop: driver.MHostVisible}}})
	_, err := NewBuffer(d, 256, driver.UASScratch, driver.MDeviceLocal)
	assert.ErrorIs(t, err, ErrNoMemoryType)
	b, err := NewBuffer(d, 256, driver.UGeneric, driver.MHostVisible)
	require.NoError(t, err)
	assert.Len(t, b.Bytes(), 256)
	b.Destroy()
	assert.Equal(t, []int64{0}, d.HeapUsage())
}

func TestNewTriangles(t *testing.T) {
	d := openSoft(t, soft.Config{})
	buf, err := NewBuffer(d, 1024, driver.UASInput, driver.MHostVisible)
	require.NoError(t, err)
	defer buf.Destroy()
	vtx := driver.BufferView{Buf: buf.Buf(), Stride: 12, Count: 6}
	idx := driver.BufferView{Buf: buf.Buf(), Off: 512, Stride: 2, Count: 12}

	g, err := NewTriangles(idx, vtx, driver.Float32x3, driver.Index16, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, g.PrimCount())
	assert.Equal(t, driver.GTriangles, g.Type())

	g, err = NewTriangles(driver.BufferView{}, vtx, driver.Float32x3, driver.IndexNone, NoDuplicateAnyHit)
	require.NoError(t, err)
	assert.Equal(t, 2, g.PrimCount())
	assert.Equal(t, NoDuplicateAnyHit, g.Flags())

	for _, x := range [...]struct {
		name  string
		index driver.BufferView
		vtx   driver.BufferView
		vf    driver.VertexFmt
		idx   driver.IndexFmt
	}{
		{"nil vertex buffer", idx, driver.BufferView{Stride: 12, Count: 3}, driver.Float32x3, driver.Index16},
		{"short stride", idx, driver.BufferView{Buf: buf.Buf(), Stride: 8, Count: 3}, driver.Float32x3, driver.Index16},
		{"no vertices", idx, driver.BufferView{Buf: buf.Buf(), Stride: 12}, driver.Float32x3, driver.Index16},
		{"vertex overflow", idx, driver.BufferView{Buf: buf.Buf(), Off: 1000, Stride: 12, Count: 3}, driver.Float32x3, driver.Index16},
		{"index count", driver.BufferView{Buf: buf.Buf(), Stride: 2, Count: 4}, vtx, driver.Float32x3, driver.Index16},
		{"index stride", idx, vtx, driver.Float32x3, driver.Index32},
		{"vertex count", driver.BufferView{}, driver.BufferView{Buf: buf.Buf(), Stride: 12, Count: 4}, driver.Float32x3, driver.IndexNone},
		{"index format", idx, vtx, driver.Float32x3, driver.IndexFmt(3)},
		{"vertex format", idx, vtx, driver.VertexFmt(-1), driver.Index16},
	} {
		_, err := NewTriangles(x.index, x.vtx, x.vf, x.idx, 0)
		assert.ErrorIs(t, err, ErrInvalidGeometry, x.name)
	}
}

func TestNewAABBs(t *testing.T) {
	d := openSoft(t, soft.Config{})
	buf, err := NewBuffer(d, 240, driver.UASInput, driver.MHostVisible)
	require.NoError(t, err)
	defer buf.Destroy()

	g, err := NewAABBs(driver.BufferView{Buf: buf.Buf(), Stride: 24, Count: 10}, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, g.PrimCount())
	assert.Equal(t, driver.GAABBs, g.Type())

	for _, v := range [...]driver.BufferView{
		{Stride: 24, Count: 1},
		{Buf: buf.Buf(), Stride: 16, Count: 1},
		{Buf: buf.Buf(), Stride: 24, Count: 11},
		{Buf: buf.Buf(), Stride: 24, Count: 0},
		{Buf: buf.Buf(), Off: -24, Stride: 24, Count: 1},
	} {
		_, err := NewAABBs(v, 0)
		assert.ErrorIs(t, err, ErrInvalidGeometry, "%+v", v)
	}
}

func TestTransform(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DY(0.5)).Mul4(mgl32.Scale3D(2, 2, 2))
	tf := TransformFrom(m)
	for r := range 3 {
		for c := range 4 {
			assert.InDelta(t, m.At(r, c), tf[r][c], 1e-6)
		}
	}
	assert.Equal(t, Transform{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}, TransformFrom(mgl32.Ident4()))
	assert.Equal(t, float32(3), tf[2][3])
	assert.True(t, m.ApproxEqualThreshold(tf.Mat4(), 1e-6))
}

func TestPack(t *testing.T) {
	in := Instance{
		Transform:   TransformFrom(mgl32.Translate3D(4, 5, 6)),
		CustomIndex: 0xabcdef,
		Mask:        0x81,
		SBTOffset:   7,
		Flags:       ForceOpaque | FlipFacing,
	}
	var p [driver.InstanceSize]byte
	in.Pack(p[:], 0x1122334455667788)

	// Row 0 is (1, 0, 0, 4).
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, p[0:4])
	assert.Equal(t, []byte{0, 0, 0x80, 0x40}, p[12:16])
	assert.Equal(t, []byte{0xef, 0xcd, 0xab, 0x81}, p[48:52])
	assert.Equal(t, []byte{7, 0, 0, byte(ForceOpaque | FlipFacing)}, p[52:56])
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, p[56:64])

	out, addr := Unpack(p[:])
	assert.Equal(t, in, out)
	assert.Equal(t, uint64(0x1122334455667788), addr)

	assert.NoError(t, in.Check())
	in.CustomIndex = MaxCustomIndex + 1
	assert.Error(t, in.Check())
	in.CustomIndex = 0
	in.SBTOffset = MaxCustomIndex + 1
	assert.Error(t, in.Check())
}

func TestSlotMap(t *testing.T) {
	var m slotMap[GeometryID, string]
	for i := range 40 {
		assert.Equal(t, i, m.insert(GeometryID(100+i), "x"))
	}
	assert.Equal(t, 40, m.len())
	assert.Equal(t, 64, m.used.Len())

	data, idx, ok := m.remove(105)
	assert.True(t, ok)
	assert.Equal(t, "x", data)
	assert.Equal(t, 5, idx)
	_, _, ok = m.remove(105)
	assert.False(t, ok)
	m.remove(102)

	assert.Equal(t, 2, m.insert(1, "a"))
	assert.Equal(t, 5, m.insert(2, "b"))
	assert.Equal(t, 40, m.insert(3, "c"))
	d, ok := m.get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", d)
	assert.Equal(t, GeometryID(3), m.at(40).key)

	var keys []GeometryID
	m.all(func(_ int, k GeometryID, _ string) bool {
		keys = append(keys, k)
		return len(keys) < 6
	})
	assert.Equal(t, []GeometryID{100, 101, 1, 103, 104, 2}, keys)
}

func TestAccelStructScratchSize(t *testing.T) {
	d := openSoft(t, soft.Config{})
	g := newAABBs(t, d, 16)

	b, err := newBLAS(d, 1, false, []*Geometry{g})
	require.NoError(t, err)
	defer b.Destroy()
	info := b.buildInfo(b.flags)
	sz := d.AccelStructSizes(&info)
	assert.Equal(t, sz.BuildScratch, b.ScratchSize())
	assert.Equal(t, sz.Size, b.Size())
	assert.False(t, b.AllowUpdate())
	assert.Equal(t, driver.ABottom, b.Type())

	u, err := newBLAS(d, 2, true, []*Geometry{g})
	require.NoError(t, err)
	defer u.Destroy()
	info = u.buildInfo(u.flags)
	sz = d.AccelStructSizes(&info)
	assert.Equal(t, max(sz.BuildScratch, sz.UpdateScratch), u.ScratchSize())
	assert.True(t, u.AllowUpdate())

	_, err = newBLAS(d, 3, false, nil)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
	_, err = newBLAS(d, 3, false, []*Geometry{g, nil})
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	tlas, err := NewTLAS(d, 5, false)
	require.NoError(t, err)
	defer tlas.Destroy()
	assert.Equal(t, 5, tlas.Count())
	assert.Equal(t, driver.ATop, tlas.Handle().Type())
	_, err = NewTLAS(d, -1, false)
	assert.Error(t, err)
}

func TestRecordScratchTooSmall(t *testing.T) {
	d := openSoft(t, soft.Config{})
	b, err := newBLAS(d, 1, false, []*Geometry{newAABBs(t, d, 64)})
	require.NoError(t, err)
	defer b.Destroy()
	small, err := NewBuffer(d, 64, driver.UASScratch, driver.MDeviceLocal)
	require.NoError(t, err)
	defer small.Destroy()

	pool, err := d.NewCmdPool()
	require.NoError(t, err)
	defer pool.Destroy()
	cb, err := pool.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, cb[0].Begin())
	assert.ErrorIs(t, b.record(cb[0], small.Buf()), ErrScratchTooSmall)
	assert.ErrorIs(t, b.record(cb[0], nil), ErrScratchTooSmall)
	require.NoError(t, cb[0].End())
}
