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

// Package backend defines the dense array operations used by the matrix
// inference engine, and the registry of their implementations.
//
// A backend is selected once from an "Options" value:
//
//	be, err := backend.New(backend.Options{Kind: backend.PlainDense, Precision: backend.Float64})
//
// This package does not include any implementation. Import the subpackage
// "canonical" to register the standard ones.
package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Matrix is a dense 2D array owned by a backend. Matrices are immutable once
// created and can be shared between goroutines.
type Matrix interface {
	// Dims returns the number of rows and columns.
	Dims() (rows, cols int)
}

// CompareOp is an elementwise comparison.
type CompareOp int

const (
	// Less tests "a < b".
	Less CompareOp = iota
	// Equal tests "a == b".
	Equal
)

func (op CompareOp) String() string {
	switch op {
	case Less:
		return "<"
	case Equal:
		return "=="
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// Backend is the set of dense operations needed to evaluate compiled trees.
//
// Matrices given to a backend must have been created by the same backend.
type Backend interface {
	// Precision of the matrix elements.
	Precision() Precision

	// FromRowMajor creates a rows x cols matrix from row-major values. The
	// values are copied (and rounded to the backend precision).
	FromRowMajor(rows, cols int, values []float64) (Matrix, error)

	// RowMajor exports the values of a matrix in row-major order.
	RowMajor(m Matrix) ([]float64, error)

	// Mul returns the matrix product a·b.
	Mul(a, b Matrix) (Matrix, error)

	// Compare returns a matrix of 1 and 0 with the result of "m[i,j] op
	// row[0,j]". "row" is a 1 x cols matrix broadcast over the rows of "m".
	Compare(m Matrix, row Matrix, op CompareOp) (Matrix, error)

	// Sum returns the elementwise sum of matrices of the same shape. The
	// matrices are added in order.
	Sum(ms []Matrix) (Matrix, error)

	// ArgmaxRows returns, for each row, the index of the largest value. When
	// several columns hold the largest value, the lowest index wins.
	ArgmaxRows(m Matrix) ([]int, error)
}

// Builder creates a backend from options. Builders are registered in
// "RegisteredBackends".
type Builder func(options Options) (Backend, error)

// RegisteredBackends is the list of available backends, indexed by kind.
var RegisteredBackends = make(map[Kind]Builder)

// New creates the backend described by the options.
func New(options Options) (Backend, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	builder, found := RegisteredBackends[options.Kind]
	if !found {
		return nil, &UnsupportedBackendError{
			Options: options,
			Reason: fmt.Sprintf("no backend registered for kind %q (registered: %s). "+
				"This may be because the backend was not imported -- directly or through the "+
				"\"canonical\" package", options.Kind, registeredKinds()),
		}
	}
	return builder(options)
}

func registeredKinds() string {
	kinds := make([]string, 0, len(RegisteredBackends))
	for kind := range RegisteredBackends {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}

// UnsupportedBackendError reports a backend configuration that cannot be
// served: unknown kind or device, invalid precision, or a tree too deep for
// the precision.
type UnsupportedBackendError struct {
	Options Options
	Reason  string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported backend (kind=%q precision=%d device=%q): %s",
		e.Options.Kind, e.Options.Precision, e.Options.Device, e.Reason)
}
