// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"github.com/gviegas/accel/internal/bitvec"
)

// slot is what a slotMap stores.
type slot[K comparable, D any] struct {
	key  K
	data D
}

// slotMap stores data of type D with keys of type K.
// Each element occupies a slot whose index does not change
// while the element is in the map, and freed slots are
// reused lowest first. Slot indices are what bit vectors
// over the map refer to.
type slotMap[K comparable, D any] struct {
	keys  map[K]int
	used  bitvec.V[uint32]
	slots []slot[K, D]
}

// insert inserts data into m under key.
// It returns the slot index of data.
// key must not be in m.
func (m *slotMap[K, D]) insert(key K, data D) int {
	if m.keys == nil {
		m.keys = make(map[K]int)
	}
	if m.used.Rem() == 0 {
		switch n := m.used.Len(); {
		case n > 0:
			m.used.Grow(n / 32)
		default:
			m.used.Grow(1)
		}
		m.slots = append(m.slots, make([]slot[K, D], m.used.Len()-len(m.slots))...)
	}
	idx, ok := m.used.Search()
	if !ok {
		// Should never happen.
		panic("unexpected failure from bitvec.V.Search")
	}
	m.used.Set(idx)
	m.slots[idx] = slot[K, D]{key, data}
	m.keys[key] = idx
	return idx
}

// remove removes the data stored under key.
// It returns the removed data and its slot index.
func (m *slotMap[K, D]) remove(key K) (data D, idx int, ok bool) {
	if idx, ok = m.keys[key]; !ok {
		return
	}
	data = m.slots[idx].data
	delete(m.keys, key)
	m.used.Unset(idx)
	m.slots[idx] = slot[K, D]{}
	return
}

// lookup returns the slot index of key.
func (m *slotMap[K, D]) lookup(key K) (idx int, ok bool) {
	idx, ok = m.keys[key]
	return
}

// get returns the data stored under key.
func (m *slotMap[K, D]) get(key K) (data D, ok bool) {
	var idx int
	if idx, ok = m.keys[key]; ok {
		data = m.slots[idx].data
	}
	return
}

// at returns the slot at idx, which must be in use.
func (m *slotMap[K, D]) at(idx int) *slot[K, D] { return &m.slots[idx] }

// len returns the number of elements in m.
func (m *slotMap[_, _]) len() int { return len(m.keys) }

// all calls f for every element in slot order until it
// returns false.
func (m *slotMap[K, D]) all(f func(idx int, key K, data D) bool) {
	for i := range m.slots {
		if m.used.IsSet(i) && !f(i, m.slots[i].key, m.slots[i].data) {
			return
		}
	}
}
