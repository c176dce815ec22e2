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

// Package model defines the "Model" interface and the registry of the model
// implementations.
package model

import (
	model_pb "github.com/decisionforests/treegemm/model/proto"
)

// Model is a trained model loaded in memory.
//
// For example:
//
//	model, err := io.LoadModel("/path/to/model")
//	fmt.Println(model.Name(), model.Header().ClassLabels)
type Model interface {

	// Name of the implementation, as registered in RegisteredBuilders.
	Name() string

	// Header of the model: its features and classes.
	Header() *model_pb.AbstractModel
}

// Implementation is a model that can be read and written by "model/io".
type Implementation interface {
	Model

	// LoadSpecific reads the implementation data stored next to the header.
	// Use "io.LoadModel" instead.
	LoadSpecific(modelPath string, prefix string) error

	// SaveSpecific writes the implementation data next to the header. Use
	// "io.SaveModel" instead.
	SaveSpecific(modelPath string, prefix string) error
}

// RegisteredBuilders creates an empty model from a header, keyed by model
// name. Implementations register themselves in their init() function.
var RegisteredBuilders = make(map[string]func(header *model_pb.AbstractModel) Implementation)
