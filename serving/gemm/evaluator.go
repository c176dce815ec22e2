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

package gemm

import (
	"fmt"

	"github.com/decisionforests/treegemm/serving/backend"
	"github.com/decisionforests/treegemm/serving/example"
)

// ShapeMismatchError reports operands with incompatible dimensions, e.g. a
// batch with the wrong number of features, or trees of a forest disagreeing
// on the number of classes.
type ShapeMismatchError struct {
	// Mismatching quantity e.g. "features".
	What string
	Got  int
	Want int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch on the number of %s: got %d, want %d", e.What, e.Got, e.Want)
}

// TreeEvaluator evaluates a compiled tree on a backend. The matrices are
// transferred to the backend once, at construction. A TreeEvaluator is safe
// for concurrent use.
//
// Batches holding a NaN, an infinity or a value out of the range of the
// backend precision are rejected with an "example.InvalidValueError".
type TreeEvaluator struct {
	tree    *CompiledTree
	backend backend.Backend

	a, b, c, d, e backend.Matrix
}

// NewTreeEvaluator binds a compiled tree to a backend.
//
// The leaf test "path sum == D" is only exact if the path sums are exactly
// representable. Trees deeper than "Precision().MaxExactDepth()" are rejected.
func NewTreeEvaluator(tree *CompiledTree, be backend.Backend) (*TreeEvaluator, error) {
	if int64(tree.Depth) > be.Precision().MaxExactDepth() {
		return nil, &backend.UnsupportedBackendError{
			Options: backend.Options{Precision: be.Precision()},
			Reason: fmt.Sprintf("the tree has a depth of %d while %d bits values are exact up to a depth of %d",
				tree.Depth, be.Precision(), be.Precision().MaxExactDepth()),
		}
	}

	e := &TreeEvaluator{tree: tree, backend: be}
	for _, item := range []struct {
		dst *backend.Matrix
		src *Dense
	}{
		{&e.a, &tree.A}, {&e.b, &tree.B}, {&e.c, &tree.C}, {&e.d, &tree.D}, {&e.e, &tree.E},
	} {
		m, err := be.FromRowMajor(item.src.Rows, item.src.Cols, item.src.Data)
		if err != nil {
			return nil, err
		}
		*item.dst = m
	}
	return e, nil
}

// Tree is the evaluated tree.
func (e *TreeEvaluator) Tree() *CompiledTree {
	return e.tree
}

// Trace contains the intermediate results of an evaluation. All the matrices
// have one row per example.
type Trace struct {
	// X·A: value of the feature tested by each node.
	Projected Dense
	// Projected < B: 1 if the node condition is satisfied.
	Satisfied Dense
	// Satisfied·C.
	PathSum Dense
	// PathSum == D: 1 for the leaf reached by the example.
	Reached Dense
	// Reached·E: one-hot encoding of the predicted class.
	OneHot Dense
}

type stages struct {
	projected, satisfied, pathSum, reached, oneHot backend.Matrix
}

// run evaluates the tree on examples already transferred to the backend.
func (e *TreeEvaluator) run(x backend.Matrix) (*stages, error) {
	var s stages
	var err error
	if s.projected, err = e.backend.Mul(x, e.a); err != nil {
		return nil, err
	}
	if s.satisfied, err = e.backend.Compare(s.projected, e.b, backend.Less); err != nil {
		return nil, err
	}
	if s.pathSum, err = e.backend.Mul(s.satisfied, e.c); err != nil {
		return nil, err
	}
	if s.reached, err = e.backend.Compare(s.pathSum, e.d, backend.Equal); err != nil {
		return nil, err
	}
	if s.oneHot, err = e.backend.Mul(s.reached, e.e); err != nil {
		return nil, err
	}
	return &s, nil
}

// OneHot returns, for each example, the one-hot encoding of the class
// predicted by the tree.
func (e *TreeEvaluator) OneHot(batch *example.Batch) (*Dense, error) {
	x, err := upload(e.backend, batch, e.tree.NumFeatures)
	if err != nil {
		return nil, err
	}
	s, err := e.run(x)
	if err != nil {
		return nil, err
	}
	return download(e.backend, s.oneHot)
}

// Predict returns the class predicted by the tree for each example.
func (e *TreeEvaluator) Predict(batch *example.Batch) ([]int, error) {
	x, err := upload(e.backend, batch, e.tree.NumFeatures)
	if err != nil {
		return nil, err
	}
	s, err := e.run(x)
	if err != nil {
		return nil, err
	}
	return e.backend.ArgmaxRows(s.oneHot)
}

// Trace evaluates the tree and returns all the intermediate results.
func (e *TreeEvaluator) Trace(batch *example.Batch) (*Trace, error) {
	x, err := upload(e.backend, batch, e.tree.NumFeatures)
	if err != nil {
		return nil, err
	}
	s, err := e.run(x)
	if err != nil {
		return nil, err
	}
	trace := &Trace{}
	for _, item := range []struct {
		dst *Dense
		src backend.Matrix
	}{
		{&trace.Projected, s.projected},
		{&trace.Satisfied, s.satisfied},
		{&trace.PathSum, s.pathSum},
		{&trace.Reached, s.reached},
		{&trace.OneHot, s.oneHot},
	} {
		m, err := download(e.backend, item.src)
		if err != nil {
			return nil, err
		}
		*item.dst = *m
	}
	return trace, nil
}

// upload transfers the examples of a batch to a backend. The number of
// features is checked before any computation.
func upload(be backend.Backend, batch *example.Batch, numFeatures int) (backend.Matrix, error) {
	if batch.NumFeatures() != numFeatures {
		return nil, &ShapeMismatchError{What: "features", Got: batch.NumFeatures(), Want: numFeatures}
	}
	// A NaN or an infinity would turn the zeros of "X·A" into NaNs for the
	// nodes testing other features.
	if err := batch.CheckRange(batch.NumAllocatedExamples(), be.Precision().MaxValue()); err != nil {
		return nil, err
	}
	return be.FromRowMajor(batch.NumAllocatedExamples(), numFeatures, batch.Values)
}

func download(be backend.Backend, m backend.Matrix) (*Dense, error) {
	rows, cols := m.Dims()
	data, err := be.RowMajor(m)
	if err != nil {
		return nil, err
	}
	return &Dense{Rows: rows, Cols: cols, Data: data}, nil
}
