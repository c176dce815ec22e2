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

// Package dense implements the "plain-dense" and "accelerated-parallel"
// backends on top of the gonum BLAS implementation.
//
// The accelerated backend splits every operation along the rows of its
// result and runs the blocks concurrently. Both backends produce exactly the
// same values since each output row is computed by a single goroutine.
package dense

import (
	"fmt"
	"runtime"

	"github.com/decisionforests/treegemm/serving/backend"
	"golang.org/x/sync/errgroup"
)

// Minimum number of rows given to a goroutine by the accelerated backend.
const minRowsPerTask = 16

func init() {
	backend.RegisteredBackends[backend.PlainDense] = NewPlain
	backend.RegisteredBackends[backend.AcceleratedParallel] = NewParallel
}

// NewPlain creates a single goroutine backend.
func NewPlain(options backend.Options) (backend.Backend, error) {
	return newBackend(options, 1)
}

// NewParallel creates a backend running each operation on up to
// "options.Workers" goroutines.
func NewParallel(options backend.Options) (backend.Backend, error) {
	if options.Device != "" && options.Device != backend.CPUDevice {
		return nil, &backend.UnsupportedBackendError{Options: options,
			Reason: fmt.Sprintf("unknown device %q, only %q is available", options.Device, backend.CPUDevice)}
	}
	workers := options.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return newBackend(options, workers)
}

func newBackend(options backend.Options, workers int) (backend.Backend, error) {
	switch options.Precision {
	case backend.Float32:
		return &denseBackend[float32]{precision: options.Precision, workers: workers, kernels: kernels32}, nil
	case backend.Float64:
		return &denseBackend[float64]{precision: options.Precision, workers: workers, kernels: kernels64}, nil
	}
	return nil, &backend.UnsupportedBackendError{Options: options,
		Reason: fmt.Sprintf("precision should be %d or %d", backend.Float32, backend.Float64)}
}

// matrix is a packed row-major matrix.
type matrix[T element] struct {
	rows, cols int
	data       []T
}

func newMatrix[T element](rows, cols int) *matrix[T] {
	return &matrix[T]{rows: rows, cols: cols, data: make([]T, rows*cols)}
}

func (m *matrix[T]) Dims() (int, int) {
	return m.rows, m.cols
}

func (m *matrix[T]) row(i int) []T {
	return m.data[i*m.cols : (i+1)*m.cols]
}

type denseBackend[T element] struct {
	precision backend.Precision
	workers   int
	kernels   kernels[T]
}

func (b *denseBackend[T]) Precision() backend.Precision {
	return b.precision
}

func (b *denseBackend[T]) cast(m backend.Matrix) (*matrix[T], error) {
	typed, ok := m.(*matrix[T])
	if !ok {
		return nil, fmt.Errorf("matrix of type %T was not created by a %d bits dense backend", m, b.precision)
	}
	return typed, nil
}

// forRows calls "fn" on consecutive row ranges covering [0, rows). The
// ranges are processed concurrently if the backend has several workers.
func (b *denseBackend[T]) forRows(rows int, fn func(begin, end int)) error {
	if b.workers <= 1 || rows <= minRowsPerTask {
		fn(0, rows)
		return nil
	}
	step := max((rows+b.workers-1)/b.workers, minRowsPerTask)
	var g errgroup.Group
	g.SetLimit(b.workers)
	for begin := 0; begin < rows; begin += step {
		begin, end := begin, min(begin+step, rows)
		g.Go(func() error {
			fn(begin, end)
			return nil
		})
	}
	return g.Wait()
}

func (b *denseBackend[T]) FromRowMajor(rows, cols int, values []float64) (backend.Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid matrix shape %dx%d", rows, cols)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("a %dx%d matrix requires %d values, got %d", rows, cols, rows*cols, len(values))
	}
	m := newMatrix[T](rows, cols)
	for i, v := range values {
		m.data[i] = T(v)
	}
	return m, nil
}

func (b *denseBackend[T]) RowMajor(m backend.Matrix) ([]float64, error) {
	typed, err := b.cast(m)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(typed.data))
	for i, v := range typed.data {
		values[i] = float64(v)
	}
	return values, nil
}

func (b *denseBackend[T]) Mul(x, y backend.Matrix) (backend.Matrix, error) {
	lhs, err := b.cast(x)
	if err != nil {
		return nil, err
	}
	rhs, err := b.cast(y)
	if err != nil {
		return nil, err
	}
	if lhs.cols != rhs.rows {
		return nil, fmt.Errorf("cannot multiply a %dx%d matrix by a %dx%d matrix",
			lhs.rows, lhs.cols, rhs.rows, rhs.cols)
	}
	out := newMatrix[T](lhs.rows, rhs.cols)
	// BLAS does not accept empty operands. An empty inner dimension is a
	// zero matrix.
	if lhs.rows == 0 || lhs.cols == 0 || rhs.cols == 0 {
		return out, nil
	}
	err = b.forRows(lhs.rows, func(begin, end int) {
		b.kernels.gemm(end-begin, rhs.cols, lhs.cols,
			lhs.data[begin*lhs.cols:end*lhs.cols], rhs.data,
			out.data[begin*rhs.cols:end*rhs.cols])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *denseBackend[T]) Compare(x backend.Matrix, y backend.Matrix, op backend.CompareOp) (backend.Matrix, error) {
	m, err := b.cast(x)
	if err != nil {
		return nil, err
	}
	ref, err := b.cast(y)
	if err != nil {
		return nil, err
	}
	if ref.rows != 1 || ref.cols != m.cols {
		return nil, fmt.Errorf("cannot broadcast a %dx%d matrix over a %dx%d matrix",
			ref.rows, ref.cols, m.rows, m.cols)
	}
	if op != backend.Less && op != backend.Equal {
		return nil, fmt.Errorf("unsupported comparison %v", op)
	}
	out := newMatrix[T](m.rows, m.cols)
	err = b.forRows(m.rows, func(begin, end int) {
		for i := begin; i < end; i++ {
			src, dst := m.row(i), out.row(i)
			for j, v := range src {
				var hit bool
				if op == backend.Less {
					hit = v < ref.data[j]
				} else {
					hit = v == ref.data[j]
				}
				if hit {
					dst[j] = 1
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *denseBackend[T]) Sum(ms []backend.Matrix) (backend.Matrix, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("cannot sum an empty list of matrices")
	}
	first, err := b.cast(ms[0])
	if err != nil {
		return nil, err
	}
	out := newMatrix[T](first.rows, first.cols)
	copy(out.data, first.data)
	for idx, m := range ms[1:] {
		typed, err := b.cast(m)
		if err != nil {
			return nil, err
		}
		if typed.rows != out.rows || typed.cols != out.cols {
			return nil, fmt.Errorf("cannot sum matrix #%d of shape %dx%d with matrices of shape %dx%d",
				idx+1, typed.rows, typed.cols, out.rows, out.cols)
		}
		b.kernels.add(out.data, typed.data)
	}
	return out, nil
}

func (b *denseBackend[T]) ArgmaxRows(x backend.Matrix) ([]int, error) {
	m, err := b.cast(x)
	if err != nil {
		return nil, err
	}
	if m.cols == 0 {
		return nil, fmt.Errorf("cannot compute the argmax of rows without columns")
	}
	indices := make([]int, m.rows)
	err = b.forRows(m.rows, func(begin, end int) {
		for i := begin; i < end; i++ {
			indices[i] = b.kernels.maxIdx(m.row(i))
		}
	})
	if err != nil {
		return nil, err
	}
	return indices, nil
}
