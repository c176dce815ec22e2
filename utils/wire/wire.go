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

// Package wire contains helpers shared by the hand written protobuf records
// (the "proto" packages). The records follow the protobuf binary format and
// are encoded with "protowire".
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is a single decoded field of a record. Exactly one of the value
// fields is meaningful, depending on "Type".
type Field struct {
	Num     protowire.Number
	Type    protowire.Type
	Varint  uint64
	Fixed64 uint64
	Bytes   []byte
}

// Int64 interprets a varint field as a signed (zigzag) integer.
func (f *Field) Int64() int64 {
	return protowire.DecodeZigZag(f.Varint)
}

// Float64 interprets a fixed64 field as a double.
func (f *Field) Float64() float64 {
	return math.Float64frombits(f.Fixed64)
}

// ForEachField calls "fn" on each field of the serialized record "b".
// Unsupported wire types (groups, fixed32) are skipped.
func ForEachField(b []byte, fn func(field *Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		field := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			field.Varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			field.Fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			field.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(&field); err != nil {
			return err
		}
	}
	return nil
}

// AppendInt64 appends a zigzag encoded integer field.
func AppendInt64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// AppendBool appends a boolean field.
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// AppendFloat64 appends a double field.
func AppendFloat64(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// AppendString appends a string field.
func AppendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendPackedFloat64 appends a packed repeated double field.
func AppendPackedFloat64(b []byte, num protowire.Number, values []float64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(values)))
	for _, v := range values {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// ConsumePackedFloat64 decodes the payload of a packed repeated double field.
func ConsumePackedFloat64(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("packed double payload of %d bytes is not a multiple of 8", len(b))
	}
	values := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		values = append(values, math.Float64frombits(v))
		b = b[n:]
	}
	return values, nil
}

// ExpectType returns an error if the field does not have the expected wire
// type.
func ExpectType(field *Field, typ protowire.Type) error {
	if field.Type != typ {
		return fmt.Errorf("field %d has wire type %d, expected %d", field.Num, field.Type, typ)
	}
	return nil
}
