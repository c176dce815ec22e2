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

package test

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// OptionalField is an "optional" field of a proto2 message.
func OptionalField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

// RepeatedField is a "repeated" field of a proto2 message.
func RepeatedField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type, packed bool) *descriptorpb.FieldDescriptorProto {
	field := OptionalField(name, number, kind)
	field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	if packed {
		field.Options = &descriptorpb.FieldOptions{Packed: proto.Bool(true)}
	}
	return field
}

// MessageField is an "optional" sub-message field. "typeName" is the fully
// qualified name of the message e.g. ".pkg.Condition".
func MessageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	field := OptionalField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.TypeName = proto.String(typeName)
	return field
}

// Message is a message definition.
func Message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// MessageTypes builds the types of the messages of a proto2 file in package
// "pkg", indexed by message name.
func MessageTypes(t *testing.T, pkg string, messages ...*descriptorpb.DescriptorProto) map[string]protoreflect.MessageType {
	t.Helper()
	file, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:        proto.String(pkg + ".proto"),
		Package:     proto.String(pkg),
		Syntax:      proto.String("proto2"),
		MessageType: messages,
	}, nil)
	if err != nil {
		t.Fatalf("Invalid message definitions: %v", err)
	}
	types := map[string]protoreflect.MessageType{}
	for i := 0; i < file.Messages().Len(); i++ {
		desc := file.Messages().Get(i)
		types[string(desc.Name())] = dynamicpb.NewMessageType(desc)
	}
	return types
}

// ProtoValues lists the populated fields of "msg" by name. Repeated fields
// become []interface{} and sub-messages map[string]interface{}.
func ProtoValues(msg protoreflect.Message) map[string]interface{} {
	values := map[string]interface{}{}
	msg.Range(func(field protoreflect.FieldDescriptor, value protoreflect.Value) bool {
		switch {
		case field.IsList():
			var items []interface{}
			for i := 0; i < value.List().Len(); i++ {
				items = append(items, value.List().Get(i).Interface())
			}
			values[string(field.Name())] = items
		case field.Message() != nil:
			values[string(field.Name())] = ProtoValues(value.Message())
		default:
			values[string(field.Name())] = value.Interface()
		}
		return true
	})
	return values
}

// DecodeProto parses "b" as a message of type "msgType" and returns its
// populated fields (see ProtoValues).
func DecodeProto(t *testing.T, msgType protoreflect.MessageType, b []byte) map[string]interface{} {
	t.Helper()
	msg := msgType.New()
	if err := proto.Unmarshal(b, msg.Interface()); err != nil {
		t.Fatalf("Cannot parse %s: %v", msgType.Descriptor().FullName(), err)
	}
	return ProtoValues(msg)
}

// EncodeProto serializes a message of type "msgType" holding "values", with
// the same layout as ProtoValues.
func EncodeProto(t *testing.T, msgType protoreflect.MessageType, values map[string]interface{}) []byte {
	t.Helper()
	msg := msgType.New()
	setProtoValues(t, msg, values)
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg.Interface())
	if err != nil {
		t.Fatalf("Cannot serialize %s: %v", msgType.Descriptor().FullName(), err)
	}
	return b
}

func setProtoValues(t *testing.T, msg protoreflect.Message, values map[string]interface{}) {
	t.Helper()
	fields := msg.Descriptor().Fields()
	for name, value := range values {
		field := fields.ByName(protoreflect.Name(name))
		if field == nil {
			t.Fatalf("Unknown field %q in %s", name, msg.Descriptor().FullName())
		}
		switch value := value.(type) {
		case []interface{}:
			list := msg.Mutable(field).List()
			for _, item := range value {
				list.Append(protoreflect.ValueOf(item))
			}
		case map[string]interface{}:
			setProtoValues(t, msg.Mutable(field).Message(), value)
		default:
			msg.Set(field, protoreflect.ValueOf(value))
		}
	}
}
