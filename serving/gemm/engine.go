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

package gemm

import (
	"fmt"

	"github.com/decisionforests/treegemm/serving/example"
)

// Engine serves a Forest through the "engine.Engine" interface. The
// prediction of a class is the fraction of the trees voting for it.
type Engine struct {
	forest   *Forest
	features *example.Features
}

// NewEngine creates an engine. "features" names the columns of the forest.
func NewEngine(forest *Forest, features *example.Features) (*Engine, error) {
	if features.NumFeatures() != forest.NumFeatures() {
		return nil, &ShapeMismatchError{What: "feature names", Got: features.NumFeatures(), Want: forest.NumFeatures()}
	}
	return &Engine{forest: forest, features: features}, nil
}

// Forest evaluated by the engine.
func (e *Engine) Forest() *Forest {
	return e.forest
}

// AllocateExamples allocates a set of examples.
func (e *Engine) AllocateExamples(maxNumExamples int) *example.Batch {
	return example.NewBatch(maxNumExamples, e.features)
}

// AllocatePredictions allocates a set of predictions.
func (e *Engine) AllocatePredictions(maxNumExamples int) []float32 {
	return make([]float32, maxNumExamples*e.OutputDim())
}

// Features of the engine.
func (e *Engine) Features() *example.Features {
	return e.features
}

// OutputDim is the output dimension of the engine.
func (e *Engine) OutputDim() int {
	return e.forest.NumClasses()
}

// Predict generates predictions with the engine.
func (e *Engine) Predict(examples *example.Batch, numExamples int, predictions []float32) error {
	if len(predictions) < numExamples*e.OutputDim() {
		return fmt.Errorf("%d predictions allocated for %d examples of dimension %d",
			len(predictions), numExamples, e.OutputDim())
	}
	head, err := examples.Head(numExamples)
	if err != nil {
		return err
	}
	votes, err := e.forest.Vote(head)
	if err != nil {
		return err
	}
	numTrees := float64(e.forest.NumTrees())
	for i, vote := range votes.Data {
		predictions[i] = float32(vote / numTrees)
	}
	return nil
}
