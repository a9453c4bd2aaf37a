// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a Driver that never yields a GPU.
type fakeDriver struct {
	name string
	err  error
}

func (d *fakeDriver) Open() (GPU, error) { return nil, d.err }
func (d *fakeDriver) Name() string       { return d.name }
func (d *fakeDriver) Close()             {}

// withDrivers replaces the registered drivers for the
// duration of a test.
func withDrivers(t *testing.T, drv ...Driver) {
	mu.Lock()
	prev := drivers
	drivers = append([]Driver(nil), drv...)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		drivers = prev
		mu.Unlock()
	})
}

func TestDrivers(t *testing.T) {
	withDrivers(t)
	Register(&fakeDriver{name: "a"})
	Register(&fakeDriver{name: "b"})
	drivers := Drivers()
	seen := make(map[string]bool, len(drivers))
	for _, d := range drivers {
		assert.False(t, seen[d.Name()], "Driver.Name %q is not unique", d.Name())
		seen[d.Name()] = true
	}
	assert.Equal(t, drivers, Drivers())
}

func TestRegisterReplace(t *testing.T) {
	withDrivers(t)
	a := &fakeDriver{name: "x"}
	b := &fakeDriver{name: "x"}
	Register(a)
	Register(b)
	drivers := Drivers()
	require.Len(t, drivers, 1)
	assert.Same(t, b, drivers[0])
}

func TestOpen(t *testing.T) {
	errA := errors.New("a failed")
	withDrivers(t, &fakeDriver{name: "Alpha", err: errA}, &fakeDriver{name: "beta", err: errNoDriver})
	_, _, err := Open("ALPHA")
	assert.ErrorIs(t, err, errA)
	_, _, err = Open("gamma")
	assert.ErrorIs(t, err, errNoDriver)
}
