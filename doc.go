// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package accel manages ray tracing acceleration
// structures on the GPU.
//
// Bottom-level structures (BLAS) index the primitives of
// geometry and are owned by a Repository, which tracks
// which of them need to be rebuilt and builds them in
// batches against a shared scratch buffer.
// Top-level structures (TLAS) index instances, each of
// which places a BLAS with a transform and shading data.
package accel
