// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Asbuild builds acceleration structures for synthetic
// scenes and reports how long the builds take.
//
// Usage:
//
//	asbuild [flags]
//
// Each scene has its own repository, so the TLAS builds
// of all scenes are recorded into a task group and spread
// across every queue of the device.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/accel"
	"github.com/gviegas/accel/config"
	"github.com/gviegas/accel/driver"
	_ "github.com/gviegas/accel/driver/soft"
	"github.com/gviegas/accel/scene"
	"github.com/gviegas/accel/task"
)

var (
	configPath = flag.String("config", "", "configuration file (.toml, .yaml)")
	driverName = flag.String("driver", "", "driver name (any if empty)")
	nscene     = flag.Int("scenes", 3, "number of scenes")
	ngeom      = flag.Int("geometries", 8, "geometries per scene")
	ninst      = flag.Int("instances", 4, "instances per geometry")
	nframe     = flag.Int("frames", 10, "number of frames")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "asbuild:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	drv, gpu, err := driver.Open(*driverName)
	if err != nil {
		return err
	}
	defer drv.Close()
	log.Info("driver opened", "name", drv.Name(), "queues", gpu.Queues())

	pool, err := task.NewPool(gpu, cfg.Task.FenceTimeout.Std())
	if err != nil {
		return err
	}
	defer pool.Destroy()

	scenes := make([]*scene.Scene, *nscene)
	for i := range scenes {
		repo, err := accel.NewRepository(gpu, pool, cfg.Repository, log.With("scene", i))
		if err != nil {
			return err
		}
		defer repo.Destroy()
		scenes[i] = scene.New(repo, cfg.Scene, log.With("scene", i))
		defer scenes[i].Destroy()
		bufs, err := populate(gpu, scenes[i], *ngeom, *ninst)
		if err != nil {
			return err
		}
		for _, b := range bufs {
			defer b.Destroy()
		}
	}

	g, err := pool.NewGroup(len(scenes))
	if err != nil {
		return err
	}
	defer g.Destroy()

	for f := range *nframe {
		start := time.Now()
		var rep accel.Report
		for i, s := range scenes {
			animate(s, float32(f))
			err := g.Record(i, func(cb driver.CmdBuffer) error {
				r, err := s.Record(cb)
				rep.Built = append(rep.Built, r.Built...)
				rep.Failed = append(rep.Failed, r.Failed...)
				return err
			})
			if err != nil {
				return err
			}
		}
		if err := g.ExecuteAcrossQueues(); err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
		for _, s := range scenes {
			s.Complete()
		}
		log.Info("frame built", "frame", f, "blas", len(rep.Built), "failed", len(rep.Failed), "time", time.Since(start))
	}
	if h, ok := drv.(interface{ Hazards() []string }); ok {
		for _, x := range h.Hazards() {
			log.Warn("hazard", "msg", x)
		}
	}
	return nil
}

// populate adds n geometries with m instances each to s.
// Every other geometry allows updates.
// It returns the buffers holding the boxes.
func populate(gpu driver.GPU, s *scene.Scene, n, m int) ([]*accel.Buffer, error) {
	bufs := make([]*accel.Buffer, 0, n)
	for i := range n {
		boxes := 4 + i*4
		buf, err := accel.NewBuffer(gpu, int64(boxes)*driver.AABBSize, driver.UASInput,
			driver.MHostVisible|driver.MHostCoherent)
		if err != nil {
			return bufs, err
		}
		bufs = append(bufs, buf)
		writeBoxes(buf.Bytes(), boxes)
		geom, err := accel.NewAABBs(driver.BufferView{Buf: buf.Buf(), Stride: driver.AABBSize, Count: boxes}, accel.Opaque)
		if err != nil {
			return bufs, err
		}
		id := accel.GeometryID(i + 1)
		if err = s.AddGeometry(id, i%2 == 0, geom); err != nil {
			return bufs, err
		}
		if err = s.SetInstanceCount(id, m); err != nil {
			return bufs, err
		}
		for j := range m {
			data := scene.InstanceData{CustomIndex: uint32(i*m + j), Mask: 0xff}
			if err = s.SetInstanceData(id, j, data); err != nil {
				return bufs, err
			}
		}
	}
	return bufs, nil
}

// writeBoxes writes n unit boxes laid out along the x axis.
func writeBoxes(p []byte, n int) {
	for i := range n {
		box := [6]float32{float32(i), 0, 0, float32(i) + 1, 1, 1}
		for j, x := range box {
			binary.LittleEndian.PutUint32(p[i*driver.AABBSize+j*4:], math32.Float32bits(x))
		}
	}
}

// animate moves the instances of s for frame f and flags
// updatable geometry for rebuild.
func animate(s *scene.Scene, f float32) {
	for gi, id := range s.GeometryIDs() {
		if gi%2 == 0 {
			s.FlagUpdateGeometry(id)
		}
		for j := 0; ; j++ {
			m := mgl32.Translate3D(float32(j)*2, float32(gi)*2, 0).Mul4(mgl32.HomogRotate3DY(f * 0.1))
			if s.SetInstanceTransform(id, j, m) != nil {
				break
			}
		}
	}
}
