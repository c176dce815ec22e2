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
	"context"
	"fmt"
	"math"

	gemm_pb "github.com/decisionforests/treegemm/serving/gemm/proto"
	"github.com/decisionforests/treegemm/utils/blobsequence"
)

// SaveForest saves compiled trees in a blob sequence file: a header record
// followed by one record per tree.
func SaveForest(path string, trees []*CompiledTree) (err error) {
	if len(trees) == 0 {
		return fmt.Errorf("no tree to save")
	}
	writer, err := blobsequence.CreateWriter(context.Background(), path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
	}()

	header := &gemm_pb.Header{
		NumTrees:    int64(len(trees)),
		NumFeatures: int64(trees[0].NumFeatures),
		NumClasses:  int64(trees[0].NumClasses),
	}
	if err := writer.Write(header.Marshal()); err != nil {
		return err
	}
	for treeIdx, tree := range trees {
		if tree.NumFeatures != trees[0].NumFeatures {
			return &ShapeMismatchError{What: fmt.Sprintf("features of tree #%d", treeIdx),
				Got: tree.NumFeatures, Want: trees[0].NumFeatures}
		}
		if tree.NumClasses != trees[0].NumClasses {
			return &ShapeMismatchError{What: fmt.Sprintf("classes of tree #%d", treeIdx),
				Got: tree.NumClasses, Want: trees[0].NumClasses}
		}
		if err := writer.Write(toProto(tree).Marshal()); err != nil {
			return err
		}
	}
	return nil
}

// LoadForest loads compiled trees saved with SaveForest. The structure of
// each tree is validated.
func LoadForest(path string) ([]*CompiledTree, error) {
	reader, err := blobsequence.OpenReader(context.Background(), path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	blob, err := reader.Next()
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("%q does not contain a compiled forest header", path)
	}
	header := &gemm_pb.Header{}
	if err := header.Unmarshal(blob); err != nil {
		return nil, err
	}
	if header.NumTrees <= 0 || header.NumFeatures <= 0 || header.NumClasses <= 0 ||
		header.NumFeatures > math.MaxInt32 || header.NumClasses > math.MaxInt32 {
		return nil, fmt.Errorf("invalid compiled forest header in %q: %d trees, %d features, %d classes",
			path, header.NumTrees, header.NumFeatures, header.NumClasses)
	}

	var trees []*CompiledTree
	for {
		blob, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if blob == nil {
			break
		}
		if int64(len(trees)) == header.NumTrees {
			return nil, fmt.Errorf("%q contains more than the %d trees listed in its header", path, header.NumTrees)
		}
		record := &gemm_pb.CompiledTree{}
		if err := record.Unmarshal(blob); err != nil {
			return nil, fmt.Errorf("cannot parse tree #%d: %w", len(trees), err)
		}
		tree := fromProto(record, int(header.NumFeatures), int(header.NumClasses))
		if err := tree.Validate(); err != nil {
			return nil, fmt.Errorf("tree #%d: %w", len(trees), err)
		}
		trees = append(trees, tree)
	}
	if int64(len(trees)) != header.NumTrees {
		return nil, fmt.Errorf("%q contains %d trees but its header lists %d trees", path, len(trees), header.NumTrees)
	}
	return trees, nil
}

func toProto(tree *CompiledTree) *gemm_pb.CompiledTree {
	record := &gemm_pb.CompiledTree{
		InternalNodes: make([]int64, len(tree.InternalNodes)),
		Leaves:        make([]int64, len(tree.Leaves)),
		Depth:         int64(tree.Depth),
		A:             tree.A.Data,
		B:             tree.B.Data,
		C:             tree.C.Data,
		D:             tree.D.Data,
		E:             tree.E.Data,
	}
	for i, node := range tree.InternalNodes {
		record.InternalNodes[i] = int64(node)
	}
	for i, leaf := range tree.Leaves {
		record.Leaves[i] = int64(leaf)
	}
	return record
}

// fromProto rebuilds a tree. The shapes are derived from the header and the
// node lists; inconsistent records are detected by Validate.
func fromProto(record *gemm_pb.CompiledTree, numFeatures, numClasses int) *CompiledTree {
	numInternal, numLeaves := len(record.InternalNodes), len(record.Leaves)
	tree := &CompiledTree{
		NumFeatures:   numFeatures,
		NumClasses:    numClasses,
		A:             Dense{Rows: numFeatures, Cols: numInternal, Data: record.A},
		B:             Dense{Rows: 1, Cols: numInternal, Data: record.B},
		C:             Dense{Rows: numInternal, Cols: numLeaves, Data: record.C},
		D:             Dense{Rows: 1, Cols: numLeaves, Data: record.D},
		E:             Dense{Rows: numLeaves, Cols: numClasses, Data: record.E},
		InternalNodes: make([]int, numInternal),
		Leaves:        make([]int, numLeaves),
		Depth:         int(record.Depth),
	}
	for i, node := range record.InternalNodes {
		tree.InternalNodes[i] = int(node)
	}
	for i, leaf := range record.Leaves {
		tree.Leaves[i] = int(leaf)
	}
	return tree
}
