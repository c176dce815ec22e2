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

package decisionforest

// Test for decisionforest.
//
// The end-to-end tests for the "decisionforest" package are in "serving/serving_test.go".

import (
	"math"
	"testing"

	dt "github.com/decisionforests/treegemm/model/decisiontree"
	"github.com/decisionforests/treegemm/serving/example"
	"github.com/decisionforests/treegemm/utils/test"
)

func leaf(distribution ...float64) dt.Node {
	return dt.Node{Left: dt.NoChild, Right: dt.NoChild, Distribution: distribution}
}

// Nodes are not in depth first order in the source tree:
//
//	0: f0 < 0.5
//	├── 2: f1 < 2
//	│   ├── 3: leaf [5 0]
//	│   └── 4: leaf [2 2]
//	└── 1: leaf [1 3]
func unorderedTree() *dt.Tree {
	return &dt.Tree{NumFeatures: 2, NumClasses: 2, Nodes: []dt.Node{
		{Left: 2, Right: 1, Feature: 0, Threshold: 0.5},
		leaf(1, 3),
		{Left: 3, Right: 4, Feature: 1, Threshold: 2},
		leaf(5, 0),
		leaf(2, 2),
	}}
}

func TestFlattenedLayout(t *testing.T) {
	tree := unorderedTree()
	forest := &dt.Forest{Trees: []*dt.Tree{tree, tree}, NumFeatures: 2, NumClasses: 2}
	engine, err := NewClassificationEngine(forest, example.AnonymousFeatures(2))
	if err != nil {
		t.Fatal(err)
	}

	test.CheckEq(t, engine.base.rootOffsets, []uint32{0, 5}, "root offsets")
	node := func(rightIdx uint32, featureIdx uint32, threshold float64) genericNode {
		return genericNode{rightIdx: rightIdx, featureIdx: featureIdx,
			condition: math.Float64bits(threshold), conditionType: numericalIsLowerConditionType}
	}
	leafNode := func(class uint64) genericNode {
		return genericNode{condition: class, conditionType: leafConditionType}
	}
	want := []genericNode{node(4, 0, 0.5), node(2, 1, 2), leafNode(0), leafNode(0), leafNode(1)}
	test.CheckEq(t, len(engine.base.nodes), 10, "number of nodes")
	for i, wantNode := range want {
		if engine.base.nodes[i] != wantNode || engine.base.nodes[i+5] != wantNode {
			t.Errorf("node %d: got %+v and %+v, want %+v", i, engine.base.nodes[i], engine.base.nodes[i+5], wantNode)
		}
	}
}

func TestPredictMatchesTreeWalk(t *testing.T) {
	tree := unorderedTree()
	stump := &dt.Tree{NumFeatures: 2, NumClasses: 2, Nodes: []dt.Node{
		{Left: 1, Right: 2, Feature: 1, Threshold: 1},
		leaf(0, 1),
		leaf(1, 0),
	}}
	forest := &dt.Forest{Trees: []*dt.Tree{tree, stump, tree}, NumFeatures: 2, NumClasses: 2}
	engine, err := NewClassificationEngine(forest, example.AnonymousFeatures(2))
	if err != nil {
		t.Fatal(err)
	}

	examples := engine.AllocateExamples(4)
	copy(examples.Values, []float64{
		0, 0,
		0.5, 2,
		0.5, 1,
		1, 0.5,
	})
	predictions := engine.AllocatePredictions(4)
	if err := engine.Predict(examples, 4, predictions); err != nil {
		t.Fatal(err)
	}
	for exampleIdx := 0; exampleIdx < 4; exampleIdx++ {
		votes := make([]float32, 2)
		for _, tree := range forest.Trees {
			votes[tree.Predict(examples.Example(exampleIdx))] += 1.0 / 3
		}
		for class := range votes {
			test.CheckNearFloat32(t, predictions[exampleIdx*2+class], votes[class], 1e-6, "prediction")
		}
	}
}

func TestDeepTree(t *testing.T) {
	// A comb deep enough to break a recursive implementation.
	const depth = 100000
	tree := &dt.Tree{NumFeatures: 1, NumClasses: 2}
	for i := 0; i < depth; i++ {
		tree.Nodes = append(tree.Nodes,
			dt.Node{Left: 2*i + 2, Right: 2*i + 1, Feature: 0, Threshold: float64(depth - i)},
			leaf(0, 1))
	}
	tree.Nodes = append(tree.Nodes, leaf(1, 0))
	forest := &dt.Forest{Trees: []*dt.Tree{tree}, NumFeatures: 1, NumClasses: 2}
	engine, err := NewClassificationEngine(forest, example.AnonymousFeatures(1))
	if err != nil {
		t.Fatal(err)
	}
	examples := engine.AllocateExamples(2)
	examples.Values[0] = -1
	examples.Values[1] = float64(depth) + 1
	predictions := engine.AllocatePredictions(2)
	if err := engine.Predict(examples, 2, predictions); err != nil {
		t.Fatal(err)
	}
	test.CheckEq(t, predictions, []float32{1, 0, 0, 1}, "predictions")
}

func TestEngineErrors(t *testing.T) {
	forest := &dt.Forest{Trees: []*dt.Tree{unorderedTree()}, NumFeatures: 2, NumClasses: 2}
	if _, err := NewClassificationEngine(forest, example.AnonymousFeatures(3)); err == nil {
		t.Error("expected an error on mismatching features")
	}

	malformed := unorderedTree()
	malformed.Nodes[2].Left = 0
	_, err := NewClassificationEngine(&dt.Forest{Trees: []*dt.Tree{malformed}, NumFeatures: 2, NumClasses: 2},
		example.AnonymousFeatures(2))
	var malformedErr *dt.MalformedTreeError
	test.CheckErrorAs(t, err, &malformedErr, "cycle")

	engine, err := NewClassificationEngine(forest, example.AnonymousFeatures(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Predict(example.NewBatch(1, example.AnonymousFeatures(1)), 1, make([]float32, 2)); err == nil {
		t.Error("expected an error on a batch with the wrong features")
	}
	if err := engine.Predict(engine.AllocateExamples(1), 2, make([]float32, 4)); err == nil {
		t.Error("expected an error on too many examples")
	}
	if err := engine.Predict(engine.AllocateExamples(1), 1, make([]float32, 1)); err == nil {
		t.Error("expected an error on a too small prediction buffer")
	}

	for _, values := range [][]float64{{0, math.Inf(-1)}, {math.NaN(), 0}} {
		examples := engine.AllocateExamples(2)
		copy(examples.Values[2:], values)
		err := engine.Predict(examples, 2, make([]float32, 4))
		var invalid *example.InvalidValueError
		test.CheckErrorAs(t, err, &invalid, "non-finite value")
		if invalid != nil {
			test.CheckEq(t, invalid.Example, 1, "example")
		}
		// Only the first "numExamples" examples are checked.
		if err := engine.Predict(examples, 1, make([]float32, 2)); err != nil {
			t.Error(err)
		}
	}
}
