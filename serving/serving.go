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

// Package serving is the entry point for model inference (serving). Models can have more than
// one inference engine, this will pick the engine requested in the options.
package serving

import (
	"fmt"

	"github.com/decisionforests/treegemm/model"
	rf "github.com/decisionforests/treegemm/model/randomforest"
	"github.com/decisionforests/treegemm/serving/backend"
	_ "github.com/decisionforests/treegemm/serving/backend/canonical"
	df_engine "github.com/decisionforests/treegemm/serving/decisionforest"
	"github.com/decisionforests/treegemm/serving/engine"
	"github.com/decisionforests/treegemm/serving/example"
	"github.com/decisionforests/treegemm/serving/gemm"
)

// EngineType is the inference algorithm.
type EngineType string

const (
	// GemmEngine evaluates the trees with dense matrix products.
	GemmEngine EngineType = "GEMM"
	// WalkEngine evaluates the trees by walking from the root to a leaf.
	WalkEngine EngineType = "WALK"
)

// Options of the engine creation.
type Options struct {
	Engine EngineType `yaml:"engine"`

	// Backend of the GEMM engine.
	Backend backend.Options `yaml:"backend"`

	// If set, the GEMM engine uses the compiled trees of this file (see
	// "gemm.SaveForest") instead of compiling the model.
	CompiledForestPath string `yaml:"compiled_forest_path"`
}

// DefaultOptions creates a GEMM engine with the default backend.
func DefaultOptions() Options {
	return Options{Engine: GemmEngine, Backend: backend.DefaultOptions()}
}

// NewEngine creates an engine for the model. It fails if the requested
// engine is not available for the model.
func NewEngine(model model.Model, options Options) (engine.Engine, error) {
	if rfModel, match := model.(*rf.Model); match {
		return newEngineRf(rfModel, options)
	}
	return nil, fmt.Errorf("no engine compatible with the model %q", model.Name())
}

func newEngineRf(model *rf.Model, options Options) (engine.Engine, error) {
	switch options.Engine {
	case WalkEngine:
		return df_engine.NewClassificationRFGenericEngine(model)
	case GemmEngine, "":
		return newGemmEngineRf(model, options)
	}
	return nil, fmt.Errorf("unknown engine %q. The available engines are %q and %q",
		options.Engine, GemmEngine, WalkEngine)
}

func newGemmEngineRf(model *rf.Model, options Options) (*gemm.Engine, error) {
	features, err := example.NewFeatures(model.Header())
	if err != nil {
		return nil, err
	}

	var trees []*gemm.CompiledTree
	if options.CompiledForestPath != "" {
		trees, err = gemm.LoadForest(options.CompiledForestPath)
		if err != nil {
			return nil, err
		}
		if len(trees) != len(model.Forest.Trees) {
			return nil, &gemm.ShapeMismatchError{What: "compiled trees", Got: len(trees), Want: len(model.Forest.Trees)}
		}
	} else {
		trees, err = gemm.CompileForest(model.Forest)
		if err != nil {
			return nil, err
		}
	}

	be, err := backend.New(options.Backend)
	if err != nil {
		return nil, err
	}
	forest, err := gemm.NewForest(trees, be, options.Backend.Workers)
	if err != nil {
		return nil, err
	}
	if forest.NumClasses() != model.Forest.NumClasses {
		return nil, &gemm.ShapeMismatchError{What: "classes", Got: forest.NumClasses(), Want: model.Forest.NumClasses}
	}
	return gemm.NewEngine(forest, features)
}
