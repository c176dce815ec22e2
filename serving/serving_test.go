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

package serving

// Check that the matrix engine and the tree-walk engine give the same
// predictions on a model saved to and loaded from disk.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decisionforests/treegemm/model"
	dt "github.com/decisionforests/treegemm/model/decisiontree"
	"github.com/decisionforests/treegemm/model/io"
	model_pb "github.com/decisionforests/treegemm/model/proto"
	rf "github.com/decisionforests/treegemm/model/randomforest"
	"github.com/decisionforests/treegemm/serving/backend"
	"github.com/decisionforests/treegemm/serving/engine"
	"github.com/decisionforests/treegemm/serving/example"
	"github.com/decisionforests/treegemm/serving/gemm"
	"github.com/decisionforests/treegemm/utils/test"
)

var (
	featureNames = []string{"a", "b", "c"}
	classLabels  = []string{"x", "y", "z"}
)

// readCsvFile returns the fields of a csv file.
func readCsvFile(path string) ([][]string, error) {
	fileHandle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { fileHandle.Close() }()
	return csv.NewReader(fileHandle).ReadAll()
}

// randomTree generates a tree with thresholds that are exact in 32 bits.
func randomTree(rnd *rand.Rand, numFeatures, numClasses, maxDepth int) *dt.Tree {
	tree := &dt.Tree{NumFeatures: numFeatures, NumClasses: numClasses}
	var grow func(depth int) int
	grow = func(depth int) int {
		nodeIdx := len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, dt.Node{Left: dt.NoChild, Right: dt.NoChild})
		if depth == maxDepth || (depth > 0 && rnd.Intn(4) == 0) {
			distribution := make([]float64, numClasses)
			for i := range distribution {
				distribution[i] = float64(rnd.Intn(5))
			}
			distribution[rnd.Intn(numClasses)]++
			tree.Nodes[nodeIdx].Distribution = distribution
			return nodeIdx
		}
		left := grow(depth + 1)
		right := grow(depth + 1)
		tree.Nodes[nodeIdx] = dt.Node{
			Left:      left,
			Right:     right,
			Feature:   rnd.Intn(numFeatures),
			Threshold: float64(rnd.Intn(64)) / 16,
		}
		return nodeIdx
	}
	grow(0)
	return tree
}

// saveAndLoadModel saves a random forest model and loads it back.
func saveAndLoadModel(t *testing.T, numTrees int) *rf.Model {
	t.Helper()
	rnd := rand.New(rand.NewSource(12))
	forest := &dt.Forest{NumFeatures: len(featureNames), NumClasses: len(classLabels)}
	for i := 0; i < numTrees; i++ {
		forest.Trees = append(forest.Trees, randomTree(rnd, len(featureNames), len(classLabels), 5))
	}
	src, err := rf.New(forest, featureNames, classLabels)
	if err != nil {
		t.Fatal(err)
	}
	modelPath := filepath.Join(t.TempDir(), "model")
	if err := io.SaveModel(modelPath, src); err != nil {
		t.Fatal(err)
	}
	loaded, err := io.LoadModel(modelPath)
	if err != nil {
		t.Fatalf("Cannot load model. %v", err)
	}
	rfModel, ok := loaded.(*rf.Model)
	if !ok {
		t.Fatalf("Unexpected model type %T", loaded)
	}
	return rfModel
}

// writeDataset writes a csv dataset with an extra column not used by the
// model and the feature columns in a different order.
func writeDataset(t *testing.T, numExamples int) string {
	t.Helper()
	rnd := rand.New(rand.NewSource(3))
	var content strings.Builder
	content.WriteString("c,comment,a,b\n")
	for i := 0; i < numExamples; i++ {
		fmt.Fprintf(&content, "%v,row%d,%v,%v\n",
			float64(rnd.Intn(32))/8, i, float64(rnd.Intn(32))/8, float64(rnd.Intn(32))/8)
	}
	path := filepath.Join(t.TempDir(), "dataset.csv")
	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// predictDataset runs an engine on a csv dataset, "batchSize" examples at a
// time.
func predictDataset(t *testing.T, engine engine.Engine, datasetPath string, batchSize int) []float32 {
	t.Helper()
	csvData, err := readCsvFile(datasetPath)
	if err != nil {
		t.Fatalf("Cannot read dataset. %v", err)
	}
	csvHeader := csvData[0]
	csvData = csvData[1:]
	numExamples := len(csvData)

	examples := engine.AllocateExamples(batchSize)
	predictions := engine.AllocatePredictions(batchSize)
	var all []float32
	for beginIdx := 0; beginIdx < numExamples; beginIdx += batchSize {
		endIdx := min(beginIdx+batchSize, numExamples)
		examples.Clear()
		for exampleIdx := beginIdx; exampleIdx < endIdx; exampleIdx++ {
			if err := examples.SetFromFields(exampleIdx-beginIdx, csvHeader, csvData[exampleIdx]); err != nil {
				t.Fatal(err)
			}
		}
		if err := engine.Predict(examples, endIdx-beginIdx, predictions); err != nil {
			t.Fatal(err)
		}
		all = append(all, predictions[:(endIdx-beginIdx)*engine.OutputDim()]...)
	}
	return all
}

func allBackendOptions() []backend.Options {
	var options []backend.Options
	for _, kind := range []backend.Kind{backend.PlainDense, backend.AcceleratedParallel} {
		for _, precision := range []backend.Precision{backend.Float32, backend.Float64} {
			for _, workers := range []int{0, 3} {
				options = append(options, backend.Options{Kind: kind, Precision: precision, Workers: workers})
			}
		}
	}
	return options
}

func TestGemmMatchesWalkEngine(t *testing.T) {
	model := saveAndLoadModel(t, 9)
	datasetPath := writeDataset(t, 53)

	walk, err := NewEngine(model, Options{Engine: WalkEngine})
	if err != nil {
		t.Fatalf("Cannot create engine. %v", err)
	}
	test.CheckEq(t, walk.OutputDim(), 3, "output dim")
	want := predictDataset(t, walk, datasetPath, 10)
	test.CheckEq(t, len(want), 53*3, "number of predictions")
	for exampleIdx := 0; exampleIdx < 53; exampleIdx++ {
		sum := want[exampleIdx*3] + want[exampleIdx*3+1] + want[exampleIdx*3+2]
		test.CheckNearFloat32(t, sum, 1, 1e-5, fmt.Sprintf("sum of votes of example %d", exampleIdx))
	}

	for _, backendOptions := range allBackendOptions() {
		name := fmt.Sprintf("%s/%d/%d", backendOptions.Kind, backendOptions.Precision, backendOptions.Workers)
		t.Run(name, func(t *testing.T) {
			gemmEngine, err := NewEngine(model, Options{Engine: GemmEngine, Backend: backendOptions})
			if err != nil {
				t.Fatalf("Cannot create engine. %v", err)
			}
			if _, ok := gemmEngine.(*gemm.Engine); !ok {
				t.Fatalf("Unexpected engine type %T", gemmEngine)
			}
			for _, batchSize := range []int{1, 7, 100} {
				test.CheckEq(t, predictDataset(t, gemmEngine, datasetPath, batchSize), want,
					fmt.Sprintf("predictions with batch size %d", batchSize))
			}
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	model := saveAndLoadModel(t, 3)
	defaultEngine, err := NewEngine(model, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := defaultEngine.(*gemm.Engine); !ok {
		t.Errorf("Unexpected engine type %T", defaultEngine)
	}
	// An empty engine type selects the matrix engine.
	emptyEngine, err := NewEngine(model, Options{Backend: backend.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := emptyEngine.(*gemm.Engine); !ok {
		t.Errorf("Unexpected engine type %T", emptyEngine)
	}
}

func TestCompiledForestPath(t *testing.T) {
	model := saveAndLoadModel(t, 5)
	datasetPath := writeDataset(t, 20)

	trees, err := gemm.CompileForest(model.Forest)
	if err != nil {
		t.Fatal(err)
	}
	compiledPath := filepath.Join(t.TempDir(), "compiled.bs")
	if err := gemm.SaveForest(compiledPath, trees); err != nil {
		t.Fatal(err)
	}

	compiled, err := NewEngine(model, Options{
		Engine:             GemmEngine,
		Backend:            backend.DefaultOptions(),
		CompiledForestPath: compiledPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	walk, err := NewEngine(model, Options{Engine: WalkEngine})
	if err != nil {
		t.Fatal(err)
	}
	test.CheckEq(t, predictDataset(t, compiled, datasetPath, 8), predictDataset(t, walk, datasetPath, 8),
		"predictions")

	// The compiled file does not match the model.
	partialPath := filepath.Join(t.TempDir(), "partial.bs")
	if err := gemm.SaveForest(partialPath, trees[:2]); err != nil {
		t.Fatal(err)
	}
	_, err = NewEngine(model, Options{Engine: GemmEngine, Backend: backend.DefaultOptions(), CompiledForestPath: partialPath})
	var mismatch *gemm.ShapeMismatchError
	test.CheckErrorAs(t, err, &mismatch, "partial compiled forest")
	test.CheckEq(t, mismatch.Got, 2, "number of compiled trees")
	test.CheckEq(t, mismatch.Want, 5, "number of trees")

	_, err = NewEngine(model, Options{Engine: GemmEngine, Backend: backend.DefaultOptions(),
		CompiledForestPath: filepath.Join(t.TempDir(), "missing.bs")})
	if err == nil {
		t.Error("expected an error on a missing compiled forest")
	}
}

func TestEngineErrors(t *testing.T) {
	model := saveAndLoadModel(t, 2)
	if _, err := NewEngine(model, Options{Engine: "FOO"}); err == nil {
		t.Error("expected an error on an unknown engine")
	}

	_, err := NewEngine(model, Options{Engine: GemmEngine, Backend: backend.Options{
		Kind: backend.AcceleratedParallel, Precision: backend.Float32, Device: "tpu"}})
	var unsupported *backend.UnsupportedBackendError
	test.CheckErrorAs(t, err, &unsupported, "unknown device")

	_, err = NewEngine(model, Options{Engine: GemmEngine, Backend: backend.Options{
		Kind: "sparse", Precision: backend.Float64}})
	if !errors.As(err, &unsupported) {
		t.Errorf("expected an unsupported backend error, got %v", err)
	}

	if _, err := NewEngine(unknownModel{}, DefaultOptions()); err == nil {
		t.Error("expected an error on a model without engine")
	}
}

func TestPredictMissingValue(t *testing.T) {
	model := saveAndLoadModel(t, 2)
	engine, err := NewEngine(model, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	examples := engine.AllocateExamples(1)
	if err := examples.SetFromFields(0, []string{"a", "b", "c"}, []string{"1", "NA", "2"}); err == nil {
		t.Error("expected an error on a missing value")
	}
	if err := examples.SetFromFields(0, []string{"a", "b"}, []string{"1", "2"}); err == nil {
		t.Error("expected an error on a missing feature")
	}
}

func TestNonFiniteValuesAreRejected(t *testing.T) {
	model := saveAndLoadModel(t, 4)
	for _, options := range []Options{
		{Engine: WalkEngine},
		{Engine: GemmEngine, Backend: backend.DefaultOptions()},
		{Engine: GemmEngine, Backend: backend.Options{Kind: backend.AcceleratedParallel, Precision: backend.Float32}},
	} {
		engine, err := NewEngine(model, options)
		if err != nil {
			t.Fatal(err)
		}
		examples := engine.AllocateExamples(2)
		examples.Values[4] = math.Inf(-1)
		err = engine.Predict(examples, 2, engine.AllocatePredictions(2))
		var invalid *example.InvalidValueError
		test.CheckErrorAs(t, err, &invalid, string(options.Engine))
		if invalid != nil {
			test.CheckEq(t, *invalid, example.InvalidValueError{Example: 1, Feature: "b", Value: math.Inf(-1)}, "error")
		}
	}
}

// unknownModel is a model without inference engine.
type unknownModel struct{}

var _ model.Model = unknownModel{}

func (unknownModel) Name() string { return "UNKNOWN" }

func (unknownModel) Header() *model_pb.AbstractModel {
	return &model_pb.AbstractModel{Name: "UNKNOWN"}
}
