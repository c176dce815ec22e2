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

// Package io contains utilities to save and load models. It doesn't include any actual model
// type support by default. Consider using instead the subpackage `canonical` that includes
// the canonical (standard) model types support.
package io

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/decisionforests/treegemm/model"
	model_pb "github.com/decisionforests/treegemm/model/proto"
	"github.com/decisionforests/treegemm/utils/file"
)

// Specific model filenames.
const modelHeaderFileName = "model_header.pb"

// LoadModel loads a model from disk.
func LoadModel(modelPath string) (model.Model, error) {
	prefix, err := DetectFilePrefix(modelPath)
	if err != nil {
		return nil, err
	}
	return LoadModelWithPrefix(modelPath, prefix)
}

// LoadModelWithPrefix loads a model with a prefix from disk.
//
// The "prefix" is a string append to the name of all the files in the model. Using a prefix make
// it possible to store multiple models in the same directory without sub-directories.
func LoadModelWithPrefix(modelPath string, prefix string) (model.Model, error) {
	// Read the generic header.
	serializedHeader, err := file.ReadFile(context.Background(), filepath.Join(modelPath, prefix+modelHeaderFileName))
	if err != nil {
		return nil, err
	}
	header := &model_pb.AbstractModel{}
	if err := header.Unmarshal(serializedHeader); err != nil {
		return nil, err
	}

	// Instantiate the model object.
	builder, hasBuilder := model.RegisteredBuilders[header.GetName()]
	if !hasBuilder {
		return nil, fmt.Errorf(
			"unknown model %q. This may be because this type of model "+
				"was not imported -- directly or through the \"canonical\" package that automatically "+
				"imports all implemented models", header.GetName())
	}

	// Load the model specific content.
	model := builder(header)
	if err = model.LoadSpecific(modelPath, prefix); err != nil {
		return nil, err
	}

	return model, nil
}

// SaveModel saves a model in a directory. The directory is created if
// missing.
func SaveModel(modelPath string, m model.Model) error {
	return SaveModelWithPrefix(modelPath, "", m)
}

// SaveModelWithPrefix saves a model in a directory with a filename prefix.
func SaveModelWithPrefix(modelPath string, prefix string, m model.Model) error {
	impl, ok := m.(model.Implementation)
	if !ok {
		return fmt.Errorf("model %q does not support saving", m.Name())
	}
	ctx := context.Background()
	if err := file.MkdirAll(ctx, modelPath); err != nil {
		return err
	}
	header := m.Header()
	if header.GetName() != m.Name() {
		return fmt.Errorf("the model header name %q does not match the model %q", header.GetName(), m.Name())
	}
	if err := file.WriteFile(ctx, filepath.Join(modelPath, prefix+modelHeaderFileName), header.Marshal()); err != nil {
		return err
	}
	return impl.SaveSpecific(modelPath, prefix)
}

// DetectFilePrefix detect the prefix of the model.
func DetectFilePrefix(modelPath string) (string, error) {
	files, err := file.Match(context.Background(), filepath.Join(modelPath, "*"+modelHeaderFileName))
	if err != nil {
		return "", err
	}
	if len(files) != 1 {
		return "", fmt.Errorf("file prefix cannot be autodetected: %v models exist in %v. A model directory should contain a filename finishing by %q",
			len(files), modelPath, modelHeaderFileName)
	}
	headerFilename := filepath.Base(files[0])
	return headerFilename[:len(headerFilename)-len(modelHeaderFileName)], nil
}
