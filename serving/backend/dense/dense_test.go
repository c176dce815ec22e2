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
	"fmt"
	"math/rand"
	"testing"

	"github.com/decisionforests/treegemm/serving/backend"
	"github.com/decisionforests/treegemm/utils/test"
)

func allOptions() []backend.Options {
	var options []backend.Options
	for _, kind := range []backend.Kind{backend.PlainDense, backend.AcceleratedParallel} {
		for _, precision := range []backend.Precision{backend.Float32, backend.Float64} {
			options = append(options, backend.Options{Kind: kind, Precision: precision, Workers: 3})
		}
	}
	return options
}

func mustNew(t *testing.T, options backend.Options) backend.Backend {
	t.Helper()
	be, err := backend.New(options)
	if err != nil {
		t.Fatal(err)
	}
	return be
}

func mustMatrix(t *testing.T, be backend.Backend, rows, cols int, values []float64) backend.Matrix {
	t.Helper()
	m, err := be.FromRowMajor(rows, cols, values)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustRowMajor(t *testing.T, be backend.Backend, m backend.Matrix) []float64 {
	t.Helper()
	values, err := be.RowMajor(m)
	if err != nil {
		t.Fatal(err)
	}
	return values
}

func TestMul(t *testing.T) {
	for _, options := range allOptions() {
		t.Run(fmt.Sprintf("%s-%d", options.Kind, options.Precision), func(t *testing.T) {
			be := mustNew(t, options)
			a := mustMatrix(t, be, 2, 3, []float64{1, 2, 3, 4, 5, 6})
			b := mustMatrix(t, be, 3, 2, []float64{1, 0, 0, 1, -1, 2})
			c, err := be.Mul(a, b)
			if err != nil {
				t.Fatal(err)
			}
			rows, cols := c.Dims()
			test.CheckEq(t, []int{rows, cols}, []int{2, 2}, "dims")
			test.CheckEq(t, mustRowMajor(t, be, c), []float64{-2, 8, -2, 17}, "product")
		})
	}
}

func TestMulEmptyInnerDimension(t *testing.T) {
	for _, options := range allOptions() {
		be := mustNew(t, options)
		a := mustMatrix(t, be, 4, 0, nil)
		b := mustMatrix(t, be, 0, 2, nil)
		c, err := be.Mul(a, b)
		if err != nil {
			t.Fatal(err)
		}
		test.CheckEq(t, mustRowMajor(t, be, c), make([]float64, 8), "zero product")

		noRows := mustMatrix(t, be, 0, 3, nil)
		d, err := be.Mul(noRows, mustMatrix(t, be, 3, 2, make([]float64, 6)))
		if err != nil {
			t.Fatal(err)
		}
		rows, cols := d.Dims()
		test.CheckEq(t, []int{rows, cols}, []int{0, 2}, "dims")
	}
}

func TestMulShapeMismatch(t *testing.T) {
	be := mustNew(t, backend.DefaultOptions())
	a := mustMatrix(t, be, 2, 3, make([]float64, 6))
	if _, err := be.Mul(a, a); err == nil {
		t.Error("expected an error")
	}
}

func TestParallelMatchesPlain(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	const rows, inner, cols = 203, 17, 9
	lhs := make([]float64, rows*inner)
	rhs := make([]float64, inner*cols)
	for i := range lhs {
		lhs[i] = float64(rnd.Intn(7) - 3)
	}
	for i := range rhs {
		rhs[i] = float64(rnd.Intn(3) - 1)
	}

	for _, precision := range []backend.Precision{backend.Float32, backend.Float64} {
		plain := mustNew(t, backend.Options{Kind: backend.PlainDense, Precision: precision})
		parallel := mustNew(t, backend.Options{Kind: backend.AcceleratedParallel, Precision: precision, Workers: 4})

		var results [][]float64
		for _, be := range []backend.Backend{plain, parallel} {
			product, err := be.Mul(mustMatrix(t, be, rows, inner, lhs), mustMatrix(t, be, inner, cols, rhs))
			if err != nil {
				t.Fatal(err)
			}
			results = append(results, mustRowMajor(t, be, product))
		}
		test.CheckEq(t, results[1], results[0], "parallel product")
	}
}

func TestCompare(t *testing.T) {
	for _, options := range allOptions() {
		be := mustNew(t, options)
		m := mustMatrix(t, be, 2, 3, []float64{0, 0.5, 2, 1, 1, 1})
		row := mustMatrix(t, be, 1, 3, []float64{0.5, 0.5, 1})

		less, err := be.Compare(m, row, backend.Less)
		if err != nil {
			t.Fatal(err)
		}
		test.CheckEq(t, mustRowMajor(t, be, less), []float64{1, 0, 0, 0, 0, 0}, "less")

		equal, err := be.Compare(m, row, backend.Equal)
		if err != nil {
			t.Fatal(err)
		}
		test.CheckEq(t, mustRowMajor(t, be, equal), []float64{0, 1, 0, 0, 0, 1}, "equal")

		if _, err := be.Compare(m, m, backend.Less); err == nil {
			t.Error("expected a broadcast error")
		}
	}
}

func TestSum(t *testing.T) {
	be := mustNew(t, backend.Options{Kind: backend.PlainDense, Precision: backend.Float32})
	a := mustMatrix(t, be, 1, 2, []float64{1, 0})
	b := mustMatrix(t, be, 1, 2, []float64{0, 1})
	sum, err := be.Sum([]backend.Matrix{a, b, b})
	if err != nil {
		t.Fatal(err)
	}
	test.CheckEq(t, mustRowMajor(t, be, sum), []float64{1, 2}, "sum")
	// The inputs are not modified.
	test.CheckEq(t, mustRowMajor(t, be, a), []float64{1, 0}, "first operand")

	if _, err := be.Sum(nil); err == nil {
		t.Error("expected an error on an empty sum")
	}
	if _, err := be.Sum([]backend.Matrix{a, mustMatrix(t, be, 2, 1, []float64{0, 0})}); err == nil {
		t.Error("expected a shape error")
	}
}

func TestArgmaxRowsLowestIndexWins(t *testing.T) {
	for _, options := range allOptions() {
		be := mustNew(t, options)
		m := mustMatrix(t, be, 4, 3, []float64{
			1, 1, 1,
			0, 2, 2,
			3, 1, 3,
			0, 0, 1,
		})
		indices, err := be.ArgmaxRows(m)
		if err != nil {
			t.Fatal(err)
		}
		test.CheckEq(t, indices, []int{0, 1, 0, 2}, "argmax")
	}
}

func TestFloat32Rounding(t *testing.T) {
	be := mustNew(t, backend.Options{Kind: backend.PlainDense, Precision: backend.Float32})
	m := mustMatrix(t, be, 1, 1, []float64{0.1})
	test.CheckEq(t, mustRowMajor(t, be, m), []float64{float64(float32(0.1))}, "rounded value")
}

func TestForeignMatrix(t *testing.T) {
	be32 := mustNew(t, backend.Options{Kind: backend.PlainDense, Precision: backend.Float32})
	be64 := mustNew(t, backend.Options{Kind: backend.PlainDense, Precision: backend.Float64})
	m := mustMatrix(t, be32, 1, 1, []float64{1})
	if _, err := be64.Mul(m, m); err == nil {
		t.Error("expected an error on a matrix from another backend")
	}
	if _, err := be64.RowMajor(m); err == nil {
		t.Error("expected an error on a matrix from another backend")
	}
}

func TestFromRowMajorErrors(t *testing.T) {
	be := mustNew(t, backend.DefaultOptions())
	if _, err := be.FromRowMajor(2, 2, []float64{1}); err == nil {
		t.Error("expected an error on a missing value")
	}
	if _, err := be.FromRowMajor(-1, 2, nil); err == nil {
		t.Error("expected an error on a negative shape")
	}
}

func TestUnsupportedOptions(t *testing.T) {
	for _, options := range []backend.Options{
		{Kind: backend.AcceleratedParallel, Precision: backend.Float32, Device: "gpu"},
		{Kind: backend.PlainDense, Precision: 16},
		{Kind: "quantum", Precision: backend.Float64},
		{Precision: backend.Float64},
		{Kind: backend.PlainDense, Precision: backend.Float64, Workers: -1},
	} {
		_, err := backend.New(options)
		var unsupported *backend.UnsupportedBackendError
		test.CheckErrorAs(t, err, &unsupported, fmt.Sprintf("%+v", options))
	}
}

func TestCPUDevice(t *testing.T) {
	be := mustNew(t, backend.Options{Kind: backend.AcceleratedParallel, Precision: backend.Float64, Device: backend.CPUDevice})
	test.CheckEq(t, be.Precision(), backend.Float64, "precision")
}

func TestMaxExactDepth(t *testing.T) {
	test.CheckEq(t, backend.Float32.MaxExactDepth(), int64(1<<24), "float32")
	test.CheckEq(t, backend.Float64.MaxExactDepth(), int64(1<<53), "float64")
	test.CheckEq(t, backend.Precision(8).MaxExactDepth(), int64(0), "unknown")
}
