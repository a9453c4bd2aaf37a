// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package soft implements driver interfaces in host memory.
// Submitted work runs on one goroutine per queue, so fences,
// semaphores and multi-queue submission behave as they would
// on a device, while acceleration structure builds only
// update bookkeeping that tests can inspect.
package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gviegas/accel/driver"
)

const driverName = "soft"

// Config configures a software Driver.
// Zero values select defaults.
type Config struct {
	// Number of submission queues.
	Queues int
	// Memory types exposed by the device.
	MemoryTypes []driver.MemoryType
	// Allowed memory types for buffers, as a bit mask
	// over MemoryTypes.
	BufferTypeBits uint32
	// Size of each memory heap. Zero means unbounded.
	HeapSize int64
	// Time each submission takes to execute.
	Latency time.Duration
	// Implementation limits.
	Limits driver.Limits
}

// Default configuration values.
const (
	defaultQueues       = 2
	defaultScratchAlign = 128
	bufferAlign         = 256
)

// defaultMemoryTypes mirrors a discrete GPU: device-local,
// host-visible and a small device-local/host-visible
// window.
var defaultMemoryTypes = []driver.MemoryType{
	{Prop: driver.MDeviceLocal, Heap: 0},
	{Prop: driver.MHostVisible | driver.MHostCoherent, Heap: 1},
	{Prop: driver.MDeviceLocal | driver.MHostVisible | driver.MHostCoherent, Heap: 0},
}

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	cfg  Config
	open bool
	ques []*queue
	wg   sync.WaitGroup

	// mu guards the fields below, which queue
	// workers access during execution.
	mu       sync.Mutex
	heapUsed []int64
	nextAddr uint64
	nextCB   int
	structs  map[uint64]*accelStruct
	execs    []Exec
	hazards  []string
	failNext error
}

func init() {
	driver.Register(&Driver{})
}

// New creates a new Driver that is not open.
func New(cfg Config) *Driver { return &Driver{cfg: cfg} }

// Open initializes the driver.
func (d *Driver) Open() (driver.GPU, error) {
	if d.open {
		return d, nil
	}
	if d.cfg.Queues <= 0 {
		d.cfg.Queues = defaultQueues
	}
	if len(d.cfg.MemoryTypes) == 0 {
		d.cfg.MemoryTypes = defaultMemoryTypes
	}
	if len(d.cfg.MemoryTypes) > 32 {
		return nil, fmt.Errorf("soft: %d memory types exceed 32", len(d.cfg.MemoryTypes))
	}
	if d.cfg.BufferTypeBits == 0 {
		d.cfg.BufferTypeBits = 1<<len(d.cfg.MemoryTypes) - 1
	}
	d.setLimits()
	nheap := 0
	for _, t := range d.cfg.MemoryTypes {
		nheap = max(nheap, t.Heap+1)
	}
	d.heapUsed = make([]int64, nheap)
	d.nextAddr = 1 << 16
	d.structs = make(map[uint64]*accelStruct)
	d.ques = make([]*queue, d.cfg.Queues)
	for i := range d.ques {
		d.ques[i] = &queue{d: d, index: i, subs: make(chan *submission, 64)}
		d.wg.Add(1)
		go d.ques[i].run(&d.wg)
	}
	d.open = true
	slog.Debug("soft driver opened", "queues", d.cfg.Queues, "memoryTypes", len(d.cfg.MemoryTypes))
	return d, nil
}

// setLimits fills in default limits.
func (d *Driver) setLimits() {
	lim := &d.cfg.Limits
	if lim.MaxGeometries <= 0 {
		lim.MaxGeometries = 1 << 24
	}
	if lim.MaxPrimitives <= 0 {
		lim.MaxPrimitives = 1 << 29
	}
	if lim.MaxInstances <= 0 {
		lim.MaxInstances = 1 << 24
	}
	if lim.ScratchAlign <= 0 {
		lim.ScratchAlign = defaultScratchAlign
	}
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// Close deinitializes the driver.
// It waits for submitted work to complete.
func (d *Driver) Close() {
	if d == nil || !d.open {
		return
	}
	for _, q := range d.ques {
		close(q.subs)
	}
	d.wg.Wait()
	*d = Driver{cfg: d.cfg}
}

// Driver returns the receiver (for driver.GPU conformance).
func (d *Driver) Driver() driver.Driver { return d }

// Queues returns the number of queues.
func (d *Driver) Queues() int { return len(d.ques) }

// MemoryTypes returns the memory types of the device.
func (d *Driver) MemoryTypes() []driver.MemoryType { return d.cfg.MemoryTypes }

// Limits returns the implementation limits.
func (d *Driver) Limits() driver.Limits { return d.cfg.Limits }

// Exec records the execution of a command buffer.
type Exec struct {
	Queue int
	Cmd   driver.CmdBuffer
}

// Executions returns the command buffers executed so far,
// in completion order.
func (d *Driver) Executions() []Exec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Exec(nil), d.execs...)
}

// Hazards returns descriptions of invalid usage detected
// during recording and execution.
func (d *Driver) Hazards() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.hazards...)
}

// hazard records invalid usage.
// d.mu must be held.
func (d *Driver) hazard(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.hazards = append(d.hazards, msg)
	slog.Warn("soft: hazard", "msg", msg)
}

// FailNextSubmit causes the next call to Submit to fail
// with err, without submitting anything.
func (d *Driver) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Stall adds extra latency to submissions that a given
// queue executes from now on.
func (d *Driver) Stall(queue int, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ques[queue].stall = dur
}

// errClosed is returned when the driver is not open.
var errClosed = errors.New("soft: driver is not open")
