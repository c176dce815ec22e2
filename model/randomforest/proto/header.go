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

// Package proto contains the serialized random forest header.
//
// The messages are defined in "header.proto" and encoded with protowire.
package proto

import (
	"github.com/decisionforests/treegemm/utils/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// Header is the random forest specific header.
type Header struct {
	NumTrees      int64
	NumNodeShards int64
	NodeFormat    string
}

const (
	numTreesField      protowire.Number = 1
	numNodeShardsField protowire.Number = 2
	nodeFormatField    protowire.Number = 3
)

// GetNumTrees returns the number of trees.
func (h *Header) GetNumTrees() int64 {
	if h == nil {
		return 0
	}
	return h.NumTrees
}

// GetNumNodeShards returns the number of node files.
func (h *Header) GetNumNodeShards() int64 {
	if h == nil {
		return 0
	}
	return h.NumNodeShards
}

// GetNodeFormat returns the format of the node files.
func (h *Header) GetNodeFormat() string {
	if h == nil {
		return ""
	}
	return h.NodeFormat
}

// Marshal serializes the header.
func (h *Header) Marshal() []byte {
	var b []byte
	b = wire.AppendInt64(b, numTreesField, h.NumTrees)
	b = wire.AppendInt64(b, numNodeShardsField, h.NumNodeShards)
	b = wire.AppendString(b, nodeFormatField, h.NodeFormat)
	return b
}

// Unmarshal parses a serialized header.
func (h *Header) Unmarshal(b []byte) error {
	*h = Header{}
	return wire.ForEachField(b, func(field *wire.Field) error {
		switch field.Num {
		case numTreesField:
			if err := wire.ExpectType(field, protowire.VarintType); err != nil {
				return err
			}
			h.NumTrees = field.Int64()
		case numNodeShardsField:
			if err := wire.ExpectType(field, protowire.VarintType); err != nil {
				return err
			}
			h.NumNodeShards = field.Int64()
		case nodeFormatField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			h.NodeFormat = string(field.Bytes)
		}
		return nil
	})
}
