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

// Package engine defines the Engine interface shared by the matrix and
// tree-walk inference code.
package engine

import "github.com/decisionforests/treegemm/serving/example"

// Engine generates class votes for a batch of examples.
/*
Usage example:

	model, err := io.LoadModel("/path/to/model")

	// Compile the trees into matrices. The model can be discarded afterwards.
	engine, err := serving.NewEngine(model, serving.DefaultOptions())

	// Resolve the feature ids once.
	featureAge := engine.Features().NumericalFeatures["age"]

	examples := engine.AllocateExamples(10)
	predictions := engine.AllocatePredictions(10)
	examples.SetNumerical(0, featureAge, 32.0)
	examples.SetNumerical(1, featureAge, 45.5)

	// Votes of the first two examples, "OutputDim" values per example.
	err = engine.Predict(examples, 2, predictions)
*/
type Engine interface {

	// Number of values per example in the predictions i.e. the number of
	// classes. The value of a class is the fraction of the trees voting for
	// it.
	OutputDim() int

	// Predict populates "predictions" with the votes of the first
	// "numExamples" examples of "examples". Predictions are example major and
	// class minor.
	Predict(examples *example.Batch, numExamples int, predictions []float32) error

	// Allocates a batch of examples. A batch can be re-used between calls to
	// "Predict".
	AllocateExamples(maxNumExamples int) *example.Batch

	// Allocates the predictions of "maxNumExamples" examples.
	AllocatePredictions(maxNumExamples int) []float32

	// Input features of the model, used to resolve the feature ids (e.g.
	// "Features().NumericalFeatures["age"]") before the inference.
	Features() *example.Features
}
