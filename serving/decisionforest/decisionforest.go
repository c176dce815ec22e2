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

// Package decisionforest contains the tree-walk inference code for decision
// forest models. It serves as reference for the matrix engine of the "gemm"
// package.
package decisionforest

import (
	"fmt"
	"math"

	dt "github.com/decisionforests/treegemm/model/decisiontree"
	rf "github.com/decisionforests/treegemm/model/randomforest"
	"github.com/decisionforests/treegemm/serving/example"
)

// Type of a condition.
type genericConditionType uint8

const (
	// When the node is a leaf i.e. does not contain a condition.
	leafConditionType genericConditionType = 0

	// Condition: feature < threshold.
	numericalIsLowerConditionType genericConditionType = 1
)

// genericNode is a node of the flattened forest.
type genericNode struct {

	// Offset to the right (negative) child node.
	//
	// Note: The left (positive) node is always next to its parent node. In
	// other words, the offset of the left child node is always 1.
	rightIdx uint32

	// Index of the feature being tested.
	featureIdx uint32

	// The main parameter of the condition:
	//   numericalIsLower*: Numerical condition as "value <
	//     math.Float64frombits(condition)".
	//
	//   leaf: Index of the majority class of the leaf.
	condition uint64

	// Type of the condition. See the definition of "genericConditionType" for the
	// supported condition types.
	conditionType genericConditionType // 8bits
}

// genericEngine for all types of decision forest models.
type genericEngine struct {
	// features used as input.
	features *example.Features

	// The list of nodes, tree by tree, in a depth first (node, left,
	// right) order.
	nodes []genericNode

	// Index in "nodes" of the root nodes.
	rootOffsets []uint32
}

// Initialize the content of a generic engine.
// Note: Generic engines are constructed by value (!= by pointers).
func (e *genericEngine) initialize(forest *dt.Forest, features *example.Features) error {
	if err := forest.Validate(); err != nil {
		return err
	}
	if features.NumFeatures() != forest.NumFeatures {
		return fmt.Errorf("the forest has %d features but %d feature names are given",
			forest.NumFeatures, features.NumFeatures())
	}
	if forest.NumFeatures > math.MaxUint32 {
		return fmt.Errorf("too many features in the model")
	}
	e.features = features

	numNodes := 0
	for _, tree := range forest.Trees {
		numNodes += len(tree.Nodes)
	}
	if numNodes > math.MaxUint32 {
		return fmt.Errorf("too many nodes in the forest")
	}
	e.nodes = make([]genericNode, 0, numNodes)
	e.rootOffsets = make([]uint32, 0, len(forest.Trees))
	for _, tree := range forest.Trees {
		e.rootOffsets = append(e.rootOffsets, uint32(len(e.nodes)))
		e.addTree(tree)
	}
	return nil
}

// Gets the active leaf of a given example. This method is used during
// inference.
func (e *genericEngine) getLeaf(examples *example.Batch, exampleIdx int, nodeIdx int) *genericNode {
	var node *genericNode
	numFeatures := e.features.NumFeatures()

	// This for-loop navigates down the tree from the root to the leaf.
	for {
		node = &e.nodes[nodeIdx]
		var eval bool
		switch node.conditionType {

		case leafConditionType:
			// Leaf
			return node

		case numericalIsLowerConditionType:
			// feature < threshold condition
			valueIdx := int(node.featureIdx) + exampleIdx*numFeatures
			eval = examples.Values[valueIdx] < math.Float64frombits(node.condition)
		}

		if eval {
			nodeIdx++
		} else {
			nodeIdx += int(node.rightIdx)
		}
	}
}

// addTree adds the nodes of a valid tree to the engine.
func (e *genericEngine) addTree(tree *dt.Tree) {
	// Nodes waiting to be added. "parent" is the index in "e.nodes" of the
	// node of which this node is the right child, or -1.
	type pendingNode struct {
		srcIdx int
		parent int
	}
	pending := []pendingNode{{srcIdx: 0, parent: -1}}
	for len(pending) > 0 {
		item := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		nodeIdx := len(e.nodes)
		if item.parent >= 0 {
			// Set the offset to the right child.
			e.nodes[item.parent].rightIdx = uint32(nodeIdx - item.parent)
		}

		srcNode := &tree.Nodes[item.srcIdx]
		if srcNode.IsLeaf() {
			e.nodes = append(e.nodes, genericNode{
				conditionType: leafConditionType,
				condition:     uint64(dt.MajorityClass(srcNode.Distribution)),
			})
			continue
		}

		e.nodes = append(e.nodes, genericNode{
			featureIdx:    uint32(srcNode.Feature),
			condition:     math.Float64bits(srcNode.Threshold),
			conditionType: numericalIsLowerConditionType,
		})
		// The left branch is built first.
		pending = append(pending,
			pendingNode{srcIdx: srcNode.Right, parent: nodeIdx},
			pendingNode{srcIdx: srcNode.Left, parent: -1})
	}
}

// ClassificationEngine is a specialization of the generic engine for
// classification forests. The prediction of a class is the fraction of the
// trees voting for it.
type ClassificationEngine struct {
	numClasses int
	base       genericEngine
}

// NewClassificationEngine creates an engine for a forest. "features" names
// the features of the forest.
func NewClassificationEngine(forest *dt.Forest, features *example.Features) (*ClassificationEngine, error) {
	engine := &ClassificationEngine{numClasses: forest.NumClasses}
	if err := engine.base.initialize(forest, features); err != nil {
		return nil, err
	}
	return engine, nil
}

// NewClassificationRFGenericEngine creates an engine for a random forest
// model.
func NewClassificationRFGenericEngine(model *rf.Model) (*ClassificationEngine, error) {
	features, err := example.NewFeatures(model.Header())
	if err != nil {
		return nil, err
	}
	return NewClassificationEngine(model.Forest, features)
}

// AllocateExamples allocates a set of examples.
func (e *ClassificationEngine) AllocateExamples(maxNumExamples int) *example.Batch {
	return example.NewBatch(maxNumExamples, e.Features())
}

// AllocatePredictions allocates a set of predictions.
func (e *ClassificationEngine) AllocatePredictions(maxNumExamples int) []float32 {
	return make([]float32, maxNumExamples*e.OutputDim())
}

// Features of the engine.
func (e *ClassificationEngine) Features() *example.Features {
	return e.base.features
}

// OutputDim is the output dimension of the engine.
func (e *ClassificationEngine) OutputDim() int {
	return e.numClasses
}

// Predict generates predictions with the engine.
func (e *ClassificationEngine) Predict(examples *example.Batch, numExamples int, predictions []float32) error {
	if examples.NumFeatures() != e.base.features.NumFeatures() {
		return fmt.Errorf("the examples have %d features but the engine expects %d features",
			examples.NumFeatures(), e.base.features.NumFeatures())
	}
	if numExamples > examples.NumAllocatedExamples() {
		return fmt.Errorf("cannot predict %d examples from a batch of %d examples",
			numExamples, examples.NumAllocatedExamples())
	}
	if len(predictions) < numExamples*e.numClasses {
		return fmt.Errorf("%d predictions allocated for %d examples of dimension %d",
			len(predictions), numExamples, e.numClasses)
	}
	if err := examples.CheckRange(numExamples, math.MaxFloat64); err != nil {
		return err
	}

	numTrees := float64(len(e.base.rootOffsets))
	votes := make([]int, e.numClasses)
	for exampleIdx := 0; exampleIdx < numExamples; exampleIdx++ {
		clear(votes)
		for _, rootOffset := range e.base.rootOffsets {
			leaf := e.base.getLeaf(examples, exampleIdx, int(rootOffset))
			votes[leaf.condition]++
		}
		for class, count := range votes {
			predictions[exampleIdx*e.numClasses+class] = float32(float64(count) / numTrees)
		}
	}
	return nil
}
