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

// nodeTypes mirrors "node.proto".
func nodeTypes(t *testing.T) map[string]protoreflect.MessageType {
	const double = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	return test.MessageTypes(t, "treegemm.model.decision_tree",
		test.Message("Node",
			test.MessageField("condition", 1, ".treegemm.model.decision_tree.Condition"),
			test.RepeatedField("distribution", 2, double, true)),
		test.Message("Condition",
			test.OptionalField("attribute", 1, descriptorpb.FieldDescriptorProto_TYPE_SINT64),
			test.OptionalField("threshold", 2, double)))
}

func TestNodeWireFormat(t *testing.T) {
	msgType := nodeTypes(t)["Node"]
	for _, tc := range []struct {
		name   string
		node   *Node
		values map[string]interface{}
	}{
		{
			name: "condition",
			node: &Node{Condition: &Condition{Attribute: 3, Threshold: -0.5}},
			values: map[string]interface{}{
				"condition": map[string]interface{}{"attribute": int64(3), "threshold": -0.5},
			},
		},
		{
			name:   "leaf",
			node:   &Node{Distribution: []float64{2, 0, 7}},
			values: map[string]interface{}{"distribution": []interface{}{2.0, 0.0, 7.0}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.CheckEq(t, test.DecodeProto(t, msgType, tc.node.Marshal()), tc.values, "decoded node")

			var got Node
			if err := got.Unmarshal(test.EncodeProto(t, msgType, tc.values)); err != nil {
				t.Fatal(err)
			}
			test.CheckEq(t, got, *tc.node, "parsed node")
		})
	}
}

func TestConditionAttributeRange(t *testing.T) {
	b := test.EncodeProto(t, nodeTypes(t)["Node"], map[string]interface{}{
		"condition": map[string]interface{}{"attribute": int64(1) << 31},
	})
	var node Node
	if err := node.Unmarshal(b); err == nil {
		t.Error("expected an error on an attribute out of the int32 range")
	}
}
