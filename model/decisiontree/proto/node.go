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

// Package proto contains the serialized representation of a decision tree
// node.
//
// The messages are defined in "node.proto" and encoded with protowire.
package proto

import (
	"fmt"

	"github.com/decisionforests/treegemm/utils/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// Node is a serialized tree node. Nodes are stored in depth first order:
// node, then its "satisfied" (left) subtree, then its "unsatisfied" (right)
// subtree.
type Node struct {
	Condition *Condition
	// Per class count of the training examples that reached the leaf.
	Distribution []float64
}

// Condition is a "value < threshold" test on a single numerical attribute.
type Condition struct {
	Attribute int32
	Threshold float64
}

const (
	nodeConditionField    protowire.Number = 1
	nodeDistributionField protowire.Number = 2

	conditionAttributeField protowire.Number = 1
	conditionThresholdField protowire.Number = 2
)

// GetCondition returns the condition of the node, or nil for a leaf.
func (n *Node) GetCondition() *Condition {
	if n == nil {
		return nil
	}
	return n.Condition
}

// Marshal serializes the node.
func (n *Node) Marshal() []byte {
	var b []byte
	if n.Condition != nil {
		var c []byte
		c = wire.AppendInt64(c, conditionAttributeField, int64(n.Condition.Attribute))
		c = wire.AppendFloat64(c, conditionThresholdField, n.Condition.Threshold)
		b = protowire.AppendTag(b, nodeConditionField, protowire.BytesType)
		b = protowire.AppendBytes(b, c)
	}
	if len(n.Distribution) > 0 {
		b = wire.AppendPackedFloat64(b, nodeDistributionField, n.Distribution)
	}
	return b
}

// Unmarshal parses a serialized node. The content of "b" is not retained.
func (n *Node) Unmarshal(b []byte) error {
	*n = Node{}
	return wire.ForEachField(b, func(field *wire.Field) error {
		switch field.Num {
		case nodeConditionField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			n.Condition = &Condition{}
			return n.Condition.unmarshal(field.Bytes)
		case nodeDistributionField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			values, err := wire.ConsumePackedFloat64(field.Bytes)
			if err != nil {
				return err
			}
			n.Distribution = append(n.Distribution, values...)
		}
		return nil
	})
}

func (c *Condition) unmarshal(b []byte) error {
	return wire.ForEachField(b, func(field *wire.Field) error {
		switch field.Num {
		case conditionAttributeField:
			if err := wire.ExpectType(field, protowire.VarintType); err != nil {
				return err
			}
			attribute := field.Int64()
			if attribute < -1<<31 || attribute >= 1<<31 {
				return fmt.Errorf("attribute %d out of range", attribute)
			}
			c.Attribute = int32(attribute)
		case conditionThresholdField:
			if err := wire.ExpectType(field, protowire.Fixed64Type); err != nil {
				return err
			}
			c.Threshold = field.Float64()
		}
		return nil
	})
}
