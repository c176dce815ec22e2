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

package dense

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

// element is the type of the matrix values.
type element interface {
	float32 | float64
}

// kernels are the precision specific primitives.
type kernels[T element] struct {
	// gemm computes c = a·b with a (m x k), b (k x n) and c (m x n), all
	// row-major and packed. None of the dimensions is zero.
	gemm func(m, n, k int, a, b, c []T)
	// add computes dst += s.
	add func(dst, s []T)
	// maxIdx is the first index of the largest value of a non-empty slice.
	maxIdx func(s []T) int
}

var kernels32 = kernels[float32]{
	gemm: func(m, n, k int, a, b, c []float32) {
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
			blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
			0, blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
	},
	add:    add[float32],
	maxIdx: maxIdx[float32],
}

var kernels64 = kernels[float64]{
	gemm: func(m, n, k int, a, b, c []float64) {
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas64.General{Rows: m, Cols: k, Stride: k, Data: a},
			blas64.General{Rows: k, Cols: n, Stride: n, Data: b},
			0, blas64.General{Rows: m, Cols: n, Stride: n, Data: c})
	},
	add:    floats.Add,
	maxIdx: floats.MaxIdx,
}

// add and maxIdx mirror floats.Add and floats.MaxIdx for float32.
func add[T element](dst, s []T) {
	for i, v := range s {
		dst[i] += v
	}
}

func maxIdx[T element](s []T) int {
	best := 0
	for i, v := range s {
		if v > s[best] {
			best = i
		}
	}
	return best
}
