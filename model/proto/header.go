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

// Package proto contains the serialized generic model header.
//
// The messages are defined in "abstract_model.proto" and encoded with protowire.
package proto

import (
	"github.com/decisionforests/treegemm/utils/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// AbstractModel is the header shared by all the models.
type AbstractModel struct {
	// Registered name of the model e.g. "RANDOM_FOREST".
	Name string
	// Names of the input features, in the order of the feature indices.
	FeatureNames []string
	// Labels of the classes, in the order of the class indices.
	ClassLabels []string
}

const (
	nameField         protowire.Number = 1
	featureNamesField protowire.Number = 2
	classLabelsField  protowire.Number = 3
)

// GetName returns the registered name of the model.
func (m *AbstractModel) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

// NumFeatures is the number of input features.
func (m *AbstractModel) NumFeatures() int {
	return len(m.FeatureNames)
}

// NumClasses is the number of label classes.
func (m *AbstractModel) NumClasses() int {
	return len(m.ClassLabels)
}

// Marshal serializes the header.
func (m *AbstractModel) Marshal() []byte {
	var b []byte
	b = wire.AppendString(b, nameField, m.Name)
	for _, name := range m.FeatureNames {
		b = wire.AppendString(b, featureNamesField, name)
	}
	for _, label := range m.ClassLabels {
		b = wire.AppendString(b, classLabelsField, label)
	}
	return b
}

// Unmarshal parses a serialized header.
func (m *AbstractModel) Unmarshal(b []byte) error {
	*m = AbstractModel{}
	return wire.ForEachField(b, func(field *wire.Field) error {
		switch field.Num {
		case nameField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			m.Name = string(field.Bytes)
		case featureNamesField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			m.FeatureNames = append(m.FeatureNames, string(field.Bytes))
		case classLabelsField:
			if err := wire.ExpectType(field, protowire.BytesType); err != nil {
				return err
			}
			m.ClassLabels = append(m.ClassLabels, string(field.Bytes))
		}
		return nil
	})
}
