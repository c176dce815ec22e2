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

// Package decisiontree contains utilities to handle classification decision
// trees.
//
// A tree is an arena of nodes addressed by index, rooted at node 0. A
// non-leaf node tests "features[Feature] < Threshold": when the test is
// satisfied, the example goes to the "Left" child, otherwise to the "Right"
// child. Leafs carry the per-class distribution of the training examples.
package decisiontree

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	pb "github.com/decisionforests/treegemm/model/decisiontree/proto"
	"github.com/decisionforests/treegemm/model/decisiontree/io"

	// Include I/O support for standard formats.
	_ "github.com/decisionforests/treegemm/model/decisiontree/io/canonical"
)

// DefaultNodeFilename is the default filename to store nodes.
const DefaultNodeFilename = "nodes"

// NoChild is the child index of leafs.
const NoChild = -1

// Node is a tree node.
type Node struct {
	// Index of the children in Tree.Nodes. Both are NoChild for leafs.
	Left  int
	Right int

	// Tested feature and threshold. Only used by non-leaf nodes.
	Feature   int
	Threshold float64

	// Per class count of training examples. Only used by leafs.
	Distribution []float64
}

// IsLeaf tests if a node is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Left == n.Right
}

// Tree is a decision tree.
type Tree struct {
	// Nodes of the tree. The root is Nodes[0].
	Nodes []Node

	NumFeatures int
	NumClasses  int
}

// Forest is a collection of trees sharing the same features and classes.
type Forest struct {
	Trees []*Tree

	NumFeatures int
	NumClasses  int
}

// NumLeafs is the number of leafs in the tree.
func (t *Tree) NumLeafs() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			count++
		}
	}
	return count
}

// NumNonLeafs is the number of non-leaf nodes in the tree.
func (t *Tree) NumNonLeafs() int {
	return len(t.Nodes) - t.NumLeafs()
}

// Leaf returns the index of the leaf reached by an example. The tree should
// be valid (see "Validate").
func (t *Tree) Leaf(features []float64) int {
	nodeIdx := 0
	for {
		node := &t.Nodes[nodeIdx]
		if node.IsLeaf() {
			return nodeIdx
		}
		if features[node.Feature] < node.Threshold {
			nodeIdx = node.Left
		} else {
			nodeIdx = node.Right
		}
	}
}

// Predict returns the majority class of the leaf reached by an example.
func (t *Tree) Predict(features []float64) int {
	return MajorityClass(t.Nodes[t.Leaf(features)].Distribution)
}

// MajorityClass is the index of the largest count of a distribution. When
// several classes have the largest count, the lowest index wins.
func MajorityClass(distribution []float64) int {
	// floats.MaxIdx returns the first index holding the maximum.
	return floats.MaxIdx(distribution)
}

// NumLeafs is the number of leafs in the forest.
func (f *Forest) NumLeafs() int {
	count := 0
	for _, tree := range f.Trees {
		count += tree.NumLeafs()
	}
	return count
}

// NumNonLeafs is the number of non-leaf nodes in the forest.
func (f *Forest) NumNonLeafs() int {
	count := 0
	for _, tree := range f.Trees {
		count += tree.NumNonLeafs()
	}
	return count
}

// Validate checks that all the trees are valid and agree with the forest
// feature and class counts.
//
// A tree disagreeing with its own forest is an inconsistent model and is
// reported as a MalformedTreeError. Operands of different shapes given to
// the matrix engine (compiled trees, batches) are reported by the "gemm"
// package as a ShapeMismatchError.
func (f *Forest) Validate() error {
	for treeIdx, tree := range f.Trees {
		if tree.NumFeatures != f.NumFeatures || tree.NumClasses != f.NumClasses {
			return &MalformedTreeError{Node: NoChild, Reason: fmt.Sprintf(
				"tree %d has %d features and %d classes while the forest has %d features and %d classes",
				treeIdx, tree.NumFeatures, tree.NumClasses, f.NumFeatures, f.NumClasses)}
		}
		if err := tree.Validate(); err != nil {
			return fmt.Errorf("tree %d: %w", treeIdx, err)
		}
	}
	return nil
}

// readTree reads the nodes of a single tree from a depth first stream.
func readTree(reader io.Reader, numFeatures, numClasses int) (*Tree, error) {
	tree := &Tree{NumFeatures: numFeatures, NumClasses: numClasses}

	// Nodes waiting for one of their children. The left child is read first,
	// so it is pushed last.
	type pending struct {
		parent int
		left   bool
	}
	stack := []pending{{parent: NoChild}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rawNode, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if rawNode == nil {
			// No more nodes
			return nil, fmt.Errorf("Not enough nodes")
		}

		nodeIdx := len(tree.Nodes)
		node := Node{Left: NoChild, Right: NoChild}
		if condition := rawNode.GetCondition(); condition != nil {
			node.Feature = int(condition.Attribute)
			node.Threshold = condition.Threshold
		} else {
			node.Distribution = rawNode.Distribution
		}
		tree.Nodes = append(tree.Nodes, node)

		if item.parent != NoChild {
			if item.left {
				tree.Nodes[item.parent].Left = nodeIdx
			} else {
				tree.Nodes[item.parent].Right = nodeIdx
			}
		}

		if rawNode.GetCondition() != nil {
			stack = append(stack,
				pending{parent: nodeIdx, left: false},
				pending{parent: nodeIdx, left: true})
		}
	}
	return tree, nil
}

// writeTree writes the nodes of a tree in depth first order.
func writeTree(writer io.Writer, tree *Tree) error {
	if len(tree.Nodes) == 0 {
		return &MalformedTreeError{Node: NoChild, Reason: "empty tree"}
	}
	stack := []int{0}
	for len(stack) > 0 {
		nodeIdx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &tree.Nodes[nodeIdx]

		rawNode := &pb.Node{}
		if node.IsLeaf() {
			rawNode.Distribution = node.Distribution
		} else {
			rawNode.Condition = &pb.Condition{Attribute: int32(node.Feature), Threshold: node.Threshold}
			stack = append(stack, node.Right, node.Left)
		}
		if err := writer.Write(rawNode); err != nil {
			return err
		}
	}
	return nil
}

// LoadForest loads a forest from disk.
func LoadForest(basePath string, numShards int, format string, numTrees int,
	numFeatures int, numClasses int) (*Forest, error) {

	forest := &Forest{NumFeatures: numFeatures, NumClasses: numClasses}
	forest.Trees = make([]*Tree, 0, numTrees)

	reader, err := io.NewNodeReader(basePath, numShards, format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	for treeIdx := 0; treeIdx < numTrees; treeIdx++ {
		tree, err := readTree(reader, numFeatures, numClasses)
		if err != nil {
			return nil, fmt.Errorf("decisiontree.LoadForest() after reading %d trees, got error: %w", treeIdx, err)
		}
		forest.Trees = append(forest.Trees, tree)
	}

	// All the nodes should have been consumed.
	extra, err := reader.Next()
	if err != nil {
		return nil, err
	}
	if extra != nil {
		return nil, fmt.Errorf("decisiontree.LoadForest() found more nodes than expected for %d trees", numTrees)
	}

	return forest, nil
}

// SaveForest saves a forest to disk. The trees are spread over "numShards"
// files.
func SaveForest(forest *Forest, basePath string, numShards int, format string) error {
	if err := forest.Validate(); err != nil {
		return err
	}
	writer, err := io.NewNodeWriter(basePath, numShards, format)
	if err != nil {
		return err
	}
	numTrees := len(forest.Trees)
	for shardIdx := 0; shardIdx < numShards; shardIdx++ {
		beginIdx := shardIdx * numTrees / numShards
		endIdx := (shardIdx + 1) * numTrees / numShards
		for treeIdx := beginIdx; treeIdx < endIdx; treeIdx++ {
			if err := writeTree(writer, forest.Trees[treeIdx]); err != nil {
				writer.Close()
				return fmt.Errorf("decisiontree.SaveForest() on tree %d: %w", treeIdx, err)
			}
		}
		if err := writer.NextShard(); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}
