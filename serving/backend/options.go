/*
 * Copyright 2022 Google LLC.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backend

import (
	"fmt"
	"math"
)

// Kind identifies a backend implementation.
type Kind string

const (
	// PlainDense computes the products on a single goroutine.
	PlainDense Kind = "plain-dense"
	// AcceleratedParallel splits the products along the rows (samples) over
	// several goroutines.
	AcceleratedParallel Kind = "accelerated-parallel"
)

// Precision is the number of bits of the matrix elements.
type Precision int

// Supported precisions.
const (
	Float32 Precision = 32
	Float64 Precision = 64
)

// MaxExactDepth is the largest tree depth for which the path sums computed
// at this precision are exact integers. Deeper trees could reach a wrong
// leaf and are rejected.
func (p Precision) MaxExactDepth() int64 {
	switch p {
	case Float32:
		return 1 << 24
	case Float64:
		return 1 << 53
	}
	return 0
}

// MaxValue is the largest magnitude of a value stored at this precision.
// Larger inputs would become infinite.
func (p Precision) MaxValue() float64 {
	if p == Float32 {
		return math.MaxFloat32
	}
	return math.MaxFloat64
}

// CPUDevice is the only device currently available. An empty device is
// equivalent to CPUDevice.
const CPUDevice = "cpu"

// Options configures a backend. The zero value is not valid, use
// "DefaultOptions".
type Options struct {
	Kind      Kind      `yaml:"kind"`
	Precision Precision `yaml:"precision"`

	// Device hint. Only used by the accelerated backends.
	Device string `yaml:"device"`

	// Maximum number of goroutines. The accelerated backend splits each
	// operation over up to Workers goroutines (zero means GOMAXPROCS). The
	// forests evaluate up to Workers trees concurrently (zero means one).
	Workers int `yaml:"workers"`
}

// DefaultOptions are 64 bits products on a single goroutine.
func DefaultOptions() Options {
	return Options{Kind: PlainDense, Precision: Float64}
}

// Validate checks the options independently of the registered backends.
func (o Options) Validate() error {
	if o.Kind == "" {
		return &UnsupportedBackendError{Options: o, Reason: "missing backend kind"}
	}
	if o.Precision.MaxExactDepth() == 0 {
		return &UnsupportedBackendError{Options: o,
			Reason: fmt.Sprintf("precision should be %d or %d", Float32, Float64)}
	}
	if o.Workers < 0 {
		return &UnsupportedBackendError{Options: o,
			Reason: fmt.Sprintf("negative number of workers %d", o.Workers)}
	}
	return nil
}
