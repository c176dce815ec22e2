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

package proto

import (
	"testing"

	"github.com/decisionforests/treegemm/utils/test"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// messageTypes mirrors "compiled_tree.proto".
func messageTypes(t *testing.T) map[string]protoreflect.MessageType {
	const (
		sint64  = descriptorpb.FieldDescriptorProto_TYPE_SINT64
		double  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	)
	return test.MessageTypes(t, "treegemm.serving.gemm",
		test.Message("Header",
			test.OptionalField("num_trees", 1, sint64),
			test.OptionalField("num_features", 2, sint64),
			test.OptionalField("num_classes", 3, sint64)),
		test.Message("CompiledTree",
			test.RepeatedField("internal_nodes", 1, sint64, false),
			test.RepeatedField("leaves", 2, sint64, false),
			test.OptionalField("depth", 3, sint64),
			test.RepeatedField("a", 4, double, true),
			test.RepeatedField("b", 5, double, true),
			test.RepeatedField("c", 6, double, true),
			test.RepeatedField("d", 7, double, true),
			test.RepeatedField("e", 8, double, true)))
}

func TestHeaderWireFormat(t *testing.T) {
	msgType := messageTypes(t)["Header"]
	header := &Header{NumTrees: 3, NumFeatures: 1 << 40, NumClasses: -2}
	values := map[string]interface{}{
		"num_trees":    int64(3),
		"num_features": int64(1 << 40),
		"num_classes":  int64(-2),
	}
	test.CheckEq(t, test.DecodeProto(t, msgType, header.Marshal()), values, "decoded header")

	var got Header
	if err := got.Unmarshal(test.EncodeProto(t, msgType, values)); err != nil {
		t.Fatal(err)
	}
	test.CheckEq(t, got, *header, "parsed header")
}

func TestCompiledTreeWireFormat(t *testing.T) {
	msgType := messageTypes(t)["CompiledTree"]
	tree := &CompiledTree{
		InternalNodes: []int64{0, 2},
		Leaves:        []int64{1, 3, 4},
		Depth:         2,
		A:             []float64{1, 0, 0, 1},
		B:             []float64{0.5, -1.25},
		C:             []float64{1, 1, 0, -1, 0, 0},
		D:             []float64{2, 1, 0},
		E:             []float64{0.25, 0.75, 1, 0, 0, 1},
	}
	values := map[string]interface{}{
		"internal_nodes": []interface{}{int64(0), int64(2)},
		"leaves":         []interface{}{int64(1), int64(3), int64(4)},
		"depth":          int64(2),
		"a":              []interface{}{1.0, 0.0, 0.0, 1.0},
		"b":              []interface{}{0.5, -1.25},
		"c":              []interface{}{1.0, 1.0, 0.0, -1.0, 0.0, 0.0},
		"d":              []interface{}{2.0, 1.0, 0.0},
		"e":              []interface{}{0.25, 0.75, 1.0, 0.0, 0.0, 1.0},
	}
	test.CheckEq(t, test.DecodeProto(t, msgType, tree.Marshal()), values, "decoded tree")

	var got CompiledTree
	if err := got.Unmarshal(test.EncodeProto(t, msgType, values)); err != nil {
		t.Fatal(err)
	}
	test.CheckEq(t, got, *tree, "parsed tree")
}

func TestCompiledTreeWithoutMatrices(t *testing.T) {
	msgType := messageTypes(t)["CompiledTree"]
	tree := &CompiledTree{Leaves: []int64{0}}
	test.CheckEq(t, test.DecodeProto(t, msgType, tree.Marshal()), map[string]interface{}{
		"leaves": []interface{}{int64(0)},
		"depth":  int64(0),
	}, "decoded tree")
}
