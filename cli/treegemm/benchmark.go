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

/*
Benchmark of the inference speed of a model.

Before benchmarking, disable CPU power scaling:

	sudo apt install linux-cpupower
	sudo cpupower frequency-set --governor performance

Naming convention:
  - A (benchmark) "run" evaluates the speed of a model on a dataset.
  - A "run" is composed of one of more "unit runs".
  - A "unit run" measure the speed of a specific inference implementation (called "engine") with
    specific parameters (e.g. batchSize=10).
*/

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/decisionforests/treegemm/serving"
	"github.com/decisionforests/treegemm/serving/engine"
	"github.com/decisionforests/treegemm/serving/example"
)

type benchmarkFlags struct {
	model   string
	dataset string
	options BenchmarkOptions
}

// BenchmarkOptions are the options to run the benchmark.
type BenchmarkOptions struct {
	// Number of times the entire dataset is run.
	numRuns int

	// Number of runs to "warmup" the engine i.e. running the engine before the benchmark.
	warmupRuns int

	// Number of examples in each batch. Some engine speed can be impacted by the batch size.
	batchSize int
}

func newBenchmarkCommand(c *cliContext) *cobra.Command {
	flags := &benchmarkFlags{}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare the inference speed of the tree-walk and matrix engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := c.options(cmd)
			if err != nil {
				return err
			}
			return c.runBenchmark(cmd.OutOrStdout(), flags.model, flags.dataset, options, &flags.options)
		},
	}
	cmd.Flags().StringVar(&flags.model, "model", "", "Path to the model")
	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "Typed path to the dataset e.g. csv:/tmp/my_file.csv")
	cmd.Flags().IntVar(&flags.options.numRuns, "num_runs", 20, "Number of times the dataset is run. Higher values increase the precision of the timings, but increase the duration of the benchmark.")
	cmd.Flags().IntVar(&flags.options.batchSize, "batch_size", 100, "Number of examples per batch. Note that some engine are not impacted by the batch size.")
	cmd.Flags().IntVar(&flags.options.warmupRuns, "warmup_runs", 2, "Number of runs through the dataset before the benchmark.")
	return cmd
}

// runBenchmark runs the benchmark of the tree-walk engine and of the matrix
// engine configured by "engineOptions". The results are printed on "out".
func (c *cliContext) runBenchmark(out io.Writer, modelPath string, datasetPath string,
	engineOptions serving.Options, options *BenchmarkOptions) error {
	c.logger.Info("Run benchmark", "model", modelPath, "dataset", datasetPath,
		"num_runs", options.numRuns, "warmup_runs", options.warmupRuns, "batch_size", options.batchSize)

	// Check the validity of the options
	if options.numRuns <= 0 {
		return fmt.Errorf("options.numRuns should be greater or equal to 1")
	}
	if options.batchSize <= 0 {
		return fmt.Errorf("options.batchSize should be greater or equal to 1")
	}
	if options.warmupRuns < 0 {
		return fmt.Errorf("options.warmupRuns should be positive")
	}

	model, err := c.loadModel(modelPath)
	if err != nil {
		return err
	}

	walkOptions := engineOptions
	walkOptions.Engine = serving.WalkEngine
	gemmOptions := engineOptions
	gemmOptions.Engine = serving.GemmEngine

	for _, unit := range []struct {
		name    string
		options serving.Options
	}{
		{"WALK", walkOptions},
		{fmt.Sprintf("GEMM %s/%d", gemmOptions.Backend.Kind, gemmOptions.Backend.Precision), gemmOptions},
	} {
		engine, err := serving.NewEngine(model, unit.options)
		if err != nil {
			return err
		}
		c.logger.Debug("Built engine", "type", fmt.Sprintf("%T", engine), "features", engine.Features().NumFeatures())

		dataset, err := loadDataset(engine, datasetPath)
		if err != nil {
			return err
		}
		c.logger.Debug("Loaded dataset", "examples", dataset.NumAllocatedExamples())

		result, err := UnitRun(engine, dataset, options)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Engine: %s\n%v", unit.name, result)
	}
	return nil
}

// UnitRunResult contains the benchmark result for a single run.
type UnitRunResult struct {
	durationPerExample time.Duration
	numExamples        int
	batchSize          int
}

func (result *UnitRunResult) String() string {
	return fmt.Sprintf(
		`Avg. time per dataset:  %v
Avg. time per batch:    %v
Avg. time per examples: %v
`,
		// Note: In Go, duration * duration gives a duration, where the result is effectively
		// numNanoseconds * numNanoseconds -> numNanoseconds.
		result.durationPerExample*time.Duration(result.numExamples),
		result.durationPerExample*time.Duration(result.batchSize),
		result.durationPerExample)
}

// UnitRun benchmark a single engine on a give dataset.
func UnitRun(engine engine.Engine, dataset *example.Batch, options *BenchmarkOptions) (*UnitRunResult, error) {
	batchSize := options.batchSize
	numExamples := dataset.NumAllocatedExamples()
	if numExamples == 0 {
		return nil, fmt.Errorf("the dataset is empty")
	}
	numBatches := (numExamples + batchSize - 1) / batchSize

	batch := engine.AllocateExamples(batchSize)
	predictions := engine.AllocatePredictions(batchSize)

	run := func(numRuns int) error {
		for runIdx := 0; runIdx < numRuns; runIdx++ {
			for batchIdx := 0; batchIdx < numBatches; batchIdx++ {
				beginIdx := batchIdx * batchSize
				endIdx := min((batchIdx+1)*batchSize, numExamples)

				// Set the example values.
				// The benchmark time account for a single copy of the feature values.
				batch.CopyFrom(dataset, beginIdx, endIdx)

				// Generate the predictions.
				if err := engine.Predict(batch, endIdx-beginIdx, predictions); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Warmup
	if err := run(options.warmupRuns); err != nil {
		return nil, err
	}

	// Benchmark
	start := time.Now()
	if err := run(options.numRuns); err != nil {
		return nil, err
	}
	end := time.Now()

	result := &UnitRunResult{
		numExamples: numExamples,
		batchSize:   batchSize,
	}
	result.durationPerExample = end.Sub(start) / time.Duration(options.numRuns*numExamples)
	return result, nil
}
