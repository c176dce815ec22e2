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

// Package randomforest defines the random forest classification model.
package randomforest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/decisionforests/treegemm/model"
	dt "github.com/decisionforests/treegemm/model/decisiontree"
	blobsequence "github.com/decisionforests/treegemm/model/decisiontree/io/blobsequence"
	model_pb "github.com/decisionforests/treegemm/model/proto"
	rf_pb "github.com/decisionforests/treegemm/model/randomforest/proto"
	"github.com/decisionforests/treegemm/utils/file"
)

// ModelKey is the unique identifier of the model for serialization.
const ModelKey = "RANDOM_FOREST"

// Filename containing the RF header.
const headerFilename = "random_forest_header.pb"

// Model is a Random Forest model.
type Model struct {
	header   *model_pb.AbstractModel
	RfHeader *rf_pb.Header
	Forest   *dt.Forest
}

func init() {
	// Register the constructor (loader) for RFs.
	model.RegisteredBuilders[ModelKey] = Create
}

// Create creates an empty RF model. Used by the model loader.
func Create(header *model_pb.AbstractModel) model.Implementation {
	return &Model{header: header, RfHeader: nil}
}

// New creates a RF model from trees in memory. The feature names and class
// labels define the number of features and classes of the forest.
func New(forest *dt.Forest, featureNames []string, classLabels []string) (*Model, error) {
	if forest.NumFeatures != len(featureNames) {
		return nil, fmt.Errorf("The forest has %d features but %d feature names are given",
			forest.NumFeatures, len(featureNames))
	}
	if forest.NumClasses != len(classLabels) {
		return nil, fmt.Errorf("The forest has %d classes but %d class labels are given",
			forest.NumClasses, len(classLabels))
	}
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		header: &model_pb.AbstractModel{
			Name:         ModelKey,
			FeatureNames: featureNames,
			ClassLabels:  classLabels,
		},
		RfHeader: &rf_pb.Header{
			NumTrees:      int64(len(forest.Trees)),
			NumNodeShards: 1,
			NodeFormat:    blobsequence.FormatKey,
		},
		Forest: forest,
	}, nil
}

// Name of the model.
func (me *Model) Name() string {
	return ModelKey
}

// Header of the model.
func (me *Model) Header() *model_pb.AbstractModel {
	return me.header
}

// LoadSpecific loads a model from disk.
func (me *Model) LoadSpecific(modelPath string, prefix string) error {

	// Load the RF specialized header.
	serializedRfHeader, err := file.ReadFile(context.Background(),
		filepath.Join(modelPath, prefix+headerFilename))
	if err != nil {
		return err
	}
	me.RfHeader = &rf_pb.Header{}
	if err := me.RfHeader.Unmarshal(serializedRfHeader); err != nil {
		return err
	}

	// Load the forest structure.
	me.Forest, err = dt.LoadForest(
		filepath.Join(modelPath, prefix+dt.DefaultNodeFilename),
		int(me.RfHeader.GetNumNodeShards()),
		me.RfHeader.GetNodeFormat(),
		int(me.RfHeader.GetNumTrees()),
		me.header.NumFeatures(),
		me.header.NumClasses())
	if err != nil {
		return err
	}

	if len(me.Forest.Trees) != int(me.RfHeader.GetNumTrees()) {
		return fmt.Errorf("Wrong number of trees in the model")
	}
	return me.Forest.Validate()
}

// SaveSpecific saves the RF header and the trees on disk.
func (me *Model) SaveSpecific(modelPath string, prefix string) error {
	if me.RfHeader.GetNumTrees() != int64(len(me.Forest.Trees)) {
		return fmt.Errorf("The header lists %d trees but the forest has %d trees",
			me.RfHeader.GetNumTrees(), len(me.Forest.Trees))
	}
	err := file.WriteFile(context.Background(),
		filepath.Join(modelPath, prefix+headerFilename), me.RfHeader.Marshal())
	if err != nil {
		return err
	}
	return dt.SaveForest(me.Forest,
		filepath.Join(modelPath, prefix+dt.DefaultNodeFilename),
		int(me.RfHeader.GetNumNodeShards()),
		me.RfHeader.GetNodeFormat())
}
