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

// Package gemm evaluates decision forests with dense matrix products.
//
// A tree with F features, I non-leaf nodes, L leafs and K classes is compiled
// into five matrices:
//
//	A (F x I): A[f,i] = 1 if the node i tests the feature f.
//	B (1 x I): B[0,i] is the threshold of the node i.
//	C (I x L): C[i,l] = +1 (resp. -1) if the leaf l is in the left (resp.
//	           right) subtree of the node i, 0 otherwise.
//	D (1 x L): D[0,l] is the number of +1 in the column l of C.
//	E (L x K): E[l,k] = 1 if k is the majority class of the leaf l.
//
// For a batch X (N x F), the leaf reached by each example is the only column
// of "((X·A < B)·C) == D" equal to 1, and multiplying by E gives the one-hot
// encoded class predicted by the tree. Non-leaf nodes and leafs are numbered
// in increasing node index order.
package gemm

import (
	"fmt"
	"math"
	"math/bits"

	dt "github.com/decisionforests/treegemm/model/decisiontree"
)

// Dense is a row-major matrix in host memory.
type Dense struct {
	Rows, Cols int
	Data       []float64
}

func newDense(rows, cols int) Dense {
	return Dense{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the element (i, j).
func (d *Dense) At(i, j int) float64 {
	return d.Data[i*d.Cols+j]
}

// Row returns the i-th row. The returned slice aliases the matrix.
func (d *Dense) Row(i int) []float64 {
	return d.Data[i*d.Cols : (i+1)*d.Cols]
}

// CompiledTree is the matrix representation of a decision tree. A compiled
// tree is immutable and can be shared by several evaluators.
type CompiledTree struct {
	NumFeatures int
	NumClasses  int

	A, B, C, D, E Dense

	// Index, in the source tree, of the node of each column of A.
	InternalNodes []int
	// Index, in the source tree, of the leaf of each column of C.
	Leaves []int

	// Depth of the deepest leaf.
	Depth int
}

// NumInternal is the number of non-leaf nodes.
func (ct *CompiledTree) NumInternal() int {
	return len(ct.InternalNodes)
}

// NumLeaves is the number of leafs.
func (ct *CompiledTree) NumLeaves() int {
	return len(ct.Leaves)
}

// Compile converts a tree into matrices. The tree is fully validated before
// any matrix is allocated.
func Compile(tree *dt.Tree) (*CompiledTree, error) {
	paths, err := dt.ResolvePaths(tree)
	if err != nil {
		return nil, err
	}

	// Column of each non-leaf node in A.
	columns := make([]int, len(tree.Nodes))
	var internalNodes []int
	for nodeIdx := range tree.Nodes {
		columns[nodeIdx] = dt.NoChild
		if !tree.Nodes[nodeIdx].IsLeaf() {
			columns[nodeIdx] = len(internalNodes)
			internalNodes = append(internalNodes, nodeIdx)
		}
	}

	numFeatures, numClasses := tree.NumFeatures, tree.NumClasses
	numInternal, numLeaves := len(internalNodes), len(paths)
	ct := &CompiledTree{
		NumFeatures:   numFeatures,
		NumClasses:    numClasses,
		A:             newDense(numFeatures, numInternal),
		B:             newDense(1, numInternal),
		C:             newDense(numInternal, numLeaves),
		D:             newDense(1, numLeaves),
		E:             newDense(numLeaves, numClasses),
		InternalNodes: internalNodes,
		Leaves:        make([]int, numLeaves),
	}

	for column, nodeIdx := range internalNodes {
		node := &tree.Nodes[nodeIdx]
		ct.A.Data[node.Feature*numInternal+column] = 1
		ct.B.Data[column] = node.Threshold
	}

	for leafColumn, path := range paths {
		ct.Leaves[leafColumn] = path.Leaf
		for _, step := range path.Steps {
			ct.C.Data[columns[step.Node]*numLeaves+leafColumn] = float64(step.Direction)
			if step.Direction == dt.Satisfied {
				ct.D.Data[leafColumn]++
			}
		}
		ct.Depth = max(ct.Depth, len(path.Steps))
		class := dt.MajorityClass(tree.Nodes[path.Leaf].Distribution)
		ct.E.Data[leafColumn*numClasses+class] = 1
	}
	return ct, nil
}

// CompileForest compiles all the trees of a forest.
func CompileForest(forest *dt.Forest) ([]*CompiledTree, error) {
	trees := make([]*CompiledTree, len(forest.Trees))
	for treeIdx, tree := range forest.Trees {
		compiled, err := Compile(tree)
		if err != nil {
			return nil, fmt.Errorf("cannot compile tree #%d: %w", treeIdx, err)
		}
		trees[treeIdx] = compiled
	}
	return trees, nil
}

// Validate checks the structure of the matrices. Compile always produces
// valid trees. Validate is used on trees from other sources, e.g. loaded
// from disk.
func (ct *CompiledTree) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &dt.MalformedTreeError{Node: dt.NoChild, Reason: "compiled tree: " + fmt.Sprintf(format, args...)}
	}

	numInternal, numLeaves := ct.NumInternal(), ct.NumLeaves()
	if ct.NumFeatures <= 0 || ct.NumClasses <= 0 {
		return invalid("%d features and %d classes", ct.NumFeatures, ct.NumClasses)
	}
	if numLeaves != numInternal+1 {
		return invalid("%d non-leaf nodes and %d leafs", numInternal, numLeaves)
	}
	for _, check := range []struct {
		name       string
		m          *Dense
		rows, cols int
	}{
		{"A", &ct.A, ct.NumFeatures, numInternal},
		{"B", &ct.B, 1, numInternal},
		{"C", &ct.C, numInternal, numLeaves},
		{"D", &ct.D, 1, numLeaves},
		{"E", &ct.E, numLeaves, ct.NumClasses},
	} {
		// rows*cols can overflow for corrupted shapes.
		hi, size := bits.Mul64(uint64(check.rows), uint64(check.cols))
		if check.m.Rows != check.rows || check.m.Cols != check.cols || hi != 0 || size != uint64(len(check.m.Data)) {
			return invalid("%s is %dx%d with %d values, expected %dx%d",
				check.name, check.m.Rows, check.m.Cols, len(check.m.Data), check.rows, check.cols)
		}
	}

	// Each node tests exactly one feature.
	for column := 0; column < numInternal; column++ {
		ones := 0
		for feature := 0; feature < ct.NumFeatures; feature++ {
			switch ct.A.At(feature, column) {
			case 0:
			case 1:
				ones++
			default:
				return invalid("A[%d,%d] is not 0 or 1", feature, column)
			}
		}
		if ones != 1 {
			return invalid("column %d of A selects %d features", column, ones)
		}
		if math.IsNaN(ct.B.Data[column]) {
			return invalid("B[0,%d] is NaN", column)
		}
	}

	// Each leaf has a path of +1 and -1 counted by D.
	depth := 0
	for leaf := 0; leaf < numLeaves; leaf++ {
		satisfied, length := 0, 0
		for node := 0; node < numInternal; node++ {
			switch ct.C.At(node, leaf) {
			case 0:
			case 1:
				satisfied++
				length++
			case -1:
				length++
			default:
				return invalid("C[%d,%d] is not -1, 0 or +1", node, leaf)
			}
		}
		if ct.D.Data[leaf] != float64(satisfied) {
			return invalid("D[0,%d]=%v but column %d of C has %d positive entries",
				leaf, ct.D.Data[leaf], leaf, satisfied)
		}
		if numInternal > 0 && length == 0 {
			return invalid("leaf %d has an empty path", leaf)
		}
		depth = max(depth, length)
	}
	if depth != ct.Depth {
		return invalid("depth is %d but the longest path has %d nodes", ct.Depth, depth)
	}

	// Each leaf predicts exactly one class.
	for leaf := 0; leaf < numLeaves; leaf++ {
		ones := 0
		for _, v := range ct.E.Row(leaf) {
			switch v {
			case 0:
			case 1:
				ones++
			default:
				return invalid("row %d of E is not one-hot", leaf)
			}
		}
		if ones != 1 {
			return invalid("row %d of E is not one-hot", leaf)
		}
	}
	return nil
}
