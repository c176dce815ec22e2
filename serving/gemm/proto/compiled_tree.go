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

// Package proto contains the serialized compiled forests.
//
// The messages are defined in "compiled_tree.proto" and encoded with protowire.
package proto

import (
	"github.com/decisionforests/treegemm/utils/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// Header is the first record of a compiled forest.
type Header struct {
	NumTrees    int64
	NumFeatures int64
	NumClasses  int64
}

const (
	numTreesField    protowire.Number = 1
	numFeaturesField protowire.Number = 2
	numClassesField  protowire.Number = 3
)

// Marshal serializes the header.
func (h *Header) Marshal() []byte {
	var b []byte
	b = wire.AppendInt64(b, numTreesField, h.NumTrees)
	b = wire.AppendInt64(b, numFeaturesField, h.NumFeatures)
	b = wire.AppendInt64(b, numClassesField, h.NumClasses)
	return b
}

// Unmarshal parses a serialized header.
func (h *Header) Unmarshal(b []byte) error {
	*h = Header{}
	return wire.ForEachField(b, func(field *wire.Field) error {
		var dst *int64
		switch field.Num {
		case numTreesField:
			dst = &h.NumTrees
		case numFeaturesField:
			dst = &h.NumFeatures
		case numClassesField:
			dst = &h.NumClasses
		default:
			return nil
		}
		if err := wire.ExpectType(field, protowire.VarintType); err != nil {
			return err
		}
		*dst = field.Int64()
		return nil
	})
}

// CompiledTree holds the matrices of a tree.
type CompiledTree struct {
	InternalNodes []int64
	Leaves        []int64
	Depth         int64
	A, B, C, D, E []float64
}

const (
	internalNodesField protowire.Number = 1
	leavesField        protowire.Number = 2
	depthField         protowire.Number = 3
	aField             protowire.Number = 4
	bField             protowire.Number = 5
	cField             protowire.Number = 6
	dField             protowire.Number = 7
	eField             protowire.Number = 8
)

func (t *CompiledTree) matrices() []struct {
	num protowire.Number
	dst *[]float64
} {
	return []struct {
		num protowire.Number
		dst *[]float64
	}{
		{aField, &t.A}, {bField, &t.B}, {cField, &t.C}, {dField, &t.D}, {eField, &t.E},
	}
}

// Marshal serializes the tree.
func (t *CompiledTree) Marshal() []byte {
	var b []byte
	for _, node := range t.InternalNodes {
		b = wire.AppendInt64(b, internalNodesField, node)
	}
	for _, leaf := range t.Leaves {
		b = wire.AppendInt64(b, leavesField, leaf)
	}
	b = wire.AppendInt64(b, depthField, t.Depth)
	for _, matrix := range t.matrices() {
		if len(*matrix.dst) > 0 {
			b = wire.AppendPackedFloat64(b, matrix.num, *matrix.dst)
		}
	}
	return b
}

// Unmarshal parses a serialized tree.
func (t *CompiledTree) Unmarshal(b []byte) error {
	*t = CompiledTree{}
	matrices := map[protowire.Number]*[]float64{}
	for _, matrix := range t.matrices() {
		matrices[matrix.num] = matrix.dst
	}
	return wire.ForEachField(b, func(field *wire.Field) error {
		switch field.Num {
		case internalNodesField, leavesField, depthField:
			if err := wire.ExpectType(field, protowire.VarintType); err != nil {
				return err
			}
			switch field.Num {
			case internalNodesField:
				t.InternalNodes = append(t.InternalNodes, field.Int64())
			case leavesField:
				t.Leaves = append(t.Leaves, field.Int64())
			default:
				t.Depth = field.Int64()
			}
		default:
			dst, isMatrix := matrices[field.Num]
			if !isMatrix {
				return nil
			}
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			values, err := wire.ConsumePackedFloat64(field.Bytes)
			if err != nil {
				return err
			}
			// Packed fields can be split in several chunks.
			*dst = append(*dst, values...)
		}
		return nil
	})
}
