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

package decisiontree

import (
	"fmt"
	"math"
)

// MalformedTreeError reports a tree that cannot be compiled or evaluated:
// inconsistent children, missing nodes, empty tree or undefined leaf class.
type MalformedTreeError struct {
	// Index of the faulty node, or -1 if the error is not about a node.
	Node   int
	Reason string
}

func (e *MalformedTreeError) Error() string {
	if e.Node >= 0 {
		return fmt.Sprintf("malformed tree: node %d: %s", e.Node, e.Reason)
	}
	return "malformed tree: " + e.Reason
}

func malformed(node int, format string, args ...interface{}) error {
	return &MalformedTreeError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// Direction is the outcome of a node test required to reach a leaf.
type Direction int8

const (
	// Satisfied means "value < threshold" i.e. the left child.
	Satisfied Direction = 1
	// Unsatisfied means "value >= threshold" i.e. the right child.
	Unsatisfied Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Satisfied:
		return "satisfied"
	case Unsatisfied:
		return "unsatisfied"
	}
	return fmt.Sprintf("Direction(%d)", int8(d))
}

// PathStep is a single node on the path to a leaf.
type PathStep struct {
	// Index of the non-leaf node in Tree.Nodes.
	Node      int
	Direction Direction
}

// LeafPath is the sequence of decisions leading from the root to a leaf.
type LeafPath struct {
	// Index of the leaf in Tree.Nodes.
	Leaf int
	// Steps from the root (first) to the parent of the leaf (last). The number
	// of steps is the depth of the leaf.
	Steps []PathStep
}

// Validate checks the structure of the tree: the tree is not empty, every
// node has either zero or two children, all the nodes are reachable from the
// root exactly once, the conditions reference existing features, and the
// leaf distributions define a majority class.
func (t *Tree) Validate() error {
	_, err := t.parents()
	return err
}

// parents validates the tree and returns the parent of each node (NoChild
// for the root).
func (t *Tree) parents() ([]int, error) {
	numNodes := len(t.Nodes)
	if numNodes == 0 {
		return nil, malformed(NoChild, "empty tree")
	}
	if t.NumFeatures <= 0 {
		return nil, malformed(NoChild, "the tree has %d features", t.NumFeatures)
	}
	if t.NumClasses <= 0 {
		return nil, malformed(NoChild, "the tree has %d classes", t.NumClasses)
	}

	parents := make([]int, numNodes)
	for i := range parents {
		parents[i] = NoChild
	}

	for nodeIdx := range t.Nodes {
		node := &t.Nodes[nodeIdx]
		if node.Left == NoChild && node.Right == NoChild {
			if err := t.checkLeaf(nodeIdx); err != nil {
				return nil, err
			}
			continue
		}
		if node.Left == NoChild || node.Right == NoChild {
			return nil, malformed(nodeIdx, "node has a single child")
		}
		if node.Left == node.Right {
			return nil, malformed(nodeIdx, "both children are node %d", node.Left)
		}
		if node.Feature < 0 || node.Feature >= t.NumFeatures {
			return nil, malformed(nodeIdx, "tested feature %d is not in [0, %d)", node.Feature, t.NumFeatures)
		}
		if math.IsNaN(node.Threshold) {
			return nil, malformed(nodeIdx, "NaN threshold")
		}
		for _, child := range [2]int{node.Left, node.Right} {
			if child < 0 || child >= numNodes {
				return nil, malformed(nodeIdx, "child %d does not exist", child)
			}
			if child == 0 {
				return nil, malformed(nodeIdx, "the root cannot be a child")
			}
			if parents[child] != NoChild {
				return nil, malformed(child, "node has two parents (%d and %d)", parents[child], nodeIdx)
			}
			parents[child] = nodeIdx
		}
	}

	// Every node except the root has a single parent. The nodes are then
	// organized as a tree rooted in 0 and possibly some cycles disconnected
	// from the root. A descent from the root finds the latter.
	visited := 0
	stack := []int{0}
	for len(stack) > 0 {
		nodeIdx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		node := &t.Nodes[nodeIdx]
		if !node.IsLeaf() {
			stack = append(stack, node.Left, node.Right)
		}
	}
	if visited != numNodes {
		return nil, malformed(NoChild, "%d nodes are not reachable from the root", numNodes-visited)
	}
	return parents, nil
}

func (t *Tree) checkLeaf(nodeIdx int) error {
	distribution := t.Nodes[nodeIdx].Distribution
	if len(distribution) != t.NumClasses {
		return malformed(nodeIdx, "leaf distribution has %d classes instead of %d", len(distribution), t.NumClasses)
	}
	sum := 0.0
	for _, count := range distribution {
		if count < 0 || math.IsNaN(count) || math.IsInf(count, 0) {
			return malformed(nodeIdx, "invalid class count %v", count)
		}
		sum += count
	}
	if sum == 0 {
		return malformed(nodeIdx, "all-zero leaf distribution")
	}
	return nil
}

// ResolvePaths computes, for each leaf in increasing node index order, the
// path from the root to the leaf. The tree is validated first.
//
// The paths are computed by ascending from the leafs with a parent map, so
// deep trees do not cause deep recursions.
func ResolvePaths(t *Tree) ([]LeafPath, error) {
	parents, err := t.parents()
	if err != nil {
		return nil, err
	}

	paths := make([]LeafPath, 0, t.NumLeafs())
	for leafIdx := range t.Nodes {
		if !t.Nodes[leafIdx].IsLeaf() {
			continue
		}
		var steps []PathStep
		child := leafIdx
		for parent := parents[child]; parent != NoChild; parent = parents[child] {
			direction := Unsatisfied
			if t.Nodes[parent].Left == child {
				direction = Satisfied
			}
			steps = append(steps, PathStep{Node: parent, Direction: direction})
			child = parent
		}
		// Root first.
		for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
			steps[i], steps[j] = steps[j], steps[i]
		}
		paths = append(paths, LeafPath{Leaf: leafIdx, Steps: steps})
	}
	return paths, nil
}

// MaxDepth is the depth of the deepest leaf. The root is at depth 0.
func MaxDepth(t *Tree) (int, error) {
	paths, err := ResolvePaths(t)
	if err != nil {
		return 0, err
	}
	maxDepth := 0
	for _, path := range paths {
		if len(path.Steps) > maxDepth {
			maxDepth = len(path.Steps)
		}
	}
	return maxDepth, nil
}
