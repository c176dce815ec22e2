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

	dt "github.com/decisionforests/treegemm/model/decisiontree"
	"github.com/decisionforests/treegemm/serving/backend"
	"github.com/decisionforests/treegemm/serving/example"
	"golang.org/x/sync/errgroup"
)

// Forest aggregates the predictions of several compiled trees by majority
// vote. A Forest is safe for concurrent use.
type Forest struct {
	trees   []*TreeEvaluator
	backend backend.Backend

	numFeatures int
	numClasses  int

	// Maximum number of trees evaluated concurrently.
	workers int
}

// NewForest binds compiled trees to a backend. All the trees should have the
// same number of features and classes. "workers" is the maximum number of
// trees evaluated concurrently; zero or one evaluates the trees one after
// the other.
func NewForest(trees []*CompiledTree, be backend.Backend, workers int) (*Forest, error) {
	if len(trees) == 0 {
		return nil, &dt.MalformedTreeError{Node: dt.NoChild, Reason: "a forest requires at least one tree"}
	}
	f := &Forest{
		trees:       make([]*TreeEvaluator, len(trees)),
		backend:     be,
		numFeatures: trees[0].NumFeatures,
		numClasses:  trees[0].NumClasses,
		workers:     max(workers, 1),
	}
	for treeIdx, tree := range trees {
		if tree.NumFeatures != f.numFeatures {
			return nil, &ShapeMismatchError{What: fmt.Sprintf("features of tree #%d", treeIdx),
				Got: tree.NumFeatures, Want: f.numFeatures}
		}
		if tree.NumClasses != f.numClasses {
			return nil, &ShapeMismatchError{What: fmt.Sprintf("classes of tree #%d", treeIdx),
				Got: tree.NumClasses, Want: f.numClasses}
		}
		evaluator, err := NewTreeEvaluator(tree, be)
		if err != nil {
			return nil, fmt.Errorf("tree #%d: %w", treeIdx, err)
		}
		f.trees[treeIdx] = evaluator
	}
	return f, nil
}

// NumTrees is the number of trees.
func (f *Forest) NumTrees() int {
	return len(f.trees)
}

// NumFeatures is the number of input features.
func (f *Forest) NumFeatures() int {
	return f.numFeatures
}

// NumClasses is the number of classes.
func (f *Forest) NumClasses() int {
	return f.numClasses
}

// votes computes the vote matrix on the backend.
func (f *Forest) votes(batch *example.Batch) (backend.Matrix, error) {
	// The examples are transferred once and shared by all the trees.
	x, err := upload(f.backend, batch, f.numFeatures)
	if err != nil {
		return nil, err
	}

	oneHots := make([]backend.Matrix, len(f.trees))
	var g errgroup.Group
	g.SetLimit(f.workers)
	for treeIdx, tree := range f.trees {
		treeIdx, tree := treeIdx, tree
		g.Go(func() error {
			s, err := tree.run(x)
			if err != nil {
				return fmt.Errorf("tree #%d: %w", treeIdx, err)
			}
			oneHots[treeIdx] = s.oneHot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The one-hot matrices are summed in tree order.
	return f.backend.Sum(oneHots)
}

// Vote returns, for each example, the number of trees voting for each class.
// Each row sums to the number of trees.
func (f *Forest) Vote(batch *example.Batch) (*Dense, error) {
	votes, err := f.votes(batch)
	if err != nil {
		return nil, err
	}
	return download(f.backend, votes)
}

// Predict returns the majority class of each example. Ties are broken in
// favor of the lowest class index.
func (f *Forest) Predict(batch *example.Batch) ([]int, error) {
	votes, err := f.votes(batch)
	if err != nil {
		return nil, err
	}
	return f.backend.ArgmaxRows(votes)
}
