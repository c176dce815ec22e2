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
Treegemm runs decision forest models with the matrix (GEMM) engine.

Usage example:

	MODEL=/tmp/my_model
	DATASET=csv:/tmp/my_dataset.csv

	# Predict the class of each example.
	treegemm predict --model=${MODEL} --dataset=${DATASET} --output=/tmp/predictions.csv

	# Compile the trees once and reuse them.
	treegemm compile --model=${MODEL} --output=/tmp/compiled.bs
	treegemm predict --model=${MODEL} --dataset=${DATASET} --compiled=/tmp/compiled.bs

	# Compare the speed of the tree-walk and matrix engines.
	treegemm benchmark --model=${MODEL} --dataset=${DATASET} \
		--backend=accelerated-parallel --precision=32 --batch_size=1000

The engine options can also be read from a YAML file with "--config":

	engine: GEMM
	backend:
	  kind: accelerated-parallel
	  precision: 32
	  workers: 8

Flags set on the command line override the values of the file.
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/decisionforests/treegemm/model"
	model_io "github.com/decisionforests/treegemm/model/io/canonical"
	"github.com/decisionforests/treegemm/serving"
	"github.com/decisionforests/treegemm/serving/backend"
	"github.com/decisionforests/treegemm/utils/file"
)

// cliContext holds the flags shared by all the commands.
type cliContext struct {
	verbose    bool
	configPath string

	engine      string
	backendKind string
	precision   int
	device      string
	workers     int

	logger *slog.Logger
}

func newRootCommand(c *cliContext) *cobra.Command {
	defaults := serving.DefaultOptions()

	root := &cobra.Command{
		Use:           "treegemm",
		Short:         "Run decision forests as dense matrix products",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if c.verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Print debug logs")
	flags.StringVar(&c.configPath, "config", "", "Optional YAML file with the engine options")
	flags.StringVar(&c.engine, "engine", string(defaults.Engine),
		fmt.Sprintf("Inference engine: %q or %q", serving.GemmEngine, serving.WalkEngine))
	flags.StringVar(&c.backendKind, "backend", string(defaults.Backend.Kind),
		fmt.Sprintf("Matrix backend: %q or %q", backend.PlainDense, backend.AcceleratedParallel))
	flags.IntVar(&c.precision, "precision", int(defaults.Backend.Precision), "Floating point precision of the matrix backend: 32 or 64")
	flags.StringVar(&c.device, "device", defaults.Backend.Device, "Device of the accelerated backend")
	flags.IntVar(&c.workers, "workers", defaults.Backend.Workers,
		"Number of goroutines of the accelerated backend and of concurrently evaluated trees (0: automatic)")

	root.AddCommand(newPredictCommand(c), newCompileCommand(c), newBenchmarkCommand(c))
	return root
}

// options builds the engine options from the defaults, the config file and
// the flags, in this order.
func (c *cliContext) options(cmd *cobra.Command) (serving.Options, error) {
	options := serving.DefaultOptions()
	if c.configPath != "" {
		content, err := file.ReadFile(context.Background(), c.configPath)
		if err != nil {
			return options, err
		}
		if err := yaml.Unmarshal(content, &options); err != nil {
			return options, fmt.Errorf("cannot parse config %q: %w", c.configPath, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("engine") {
		options.Engine = serving.EngineType(c.engine)
	}
	if flags.Changed("backend") {
		options.Backend.Kind = backend.Kind(c.backendKind)
	}
	if flags.Changed("precision") {
		options.Backend.Precision = backend.Precision(c.precision)
	}
	if flags.Changed("device") {
		options.Backend.Device = c.device
	}
	if flags.Changed("workers") {
		options.Backend.Workers = c.workers
	}

	if options.Engine != serving.WalkEngine {
		if err := options.Backend.Validate(); err != nil {
			return options, err
		}
	}
	c.logger.Debug("Engine options",
		"engine", options.Engine,
		"backend", options.Backend.Kind,
		"precision", options.Backend.Precision,
		"device", options.Backend.Device,
		"workers", options.Backend.Workers)
	return options, nil
}

// loadModel loads a model and logs its description.
func (c *cliContext) loadModel(modelPath string) (model.Model, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}
	c.logger.Info("Load model", "path", modelPath)
	m, err := model_io.LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Found model", "name", m.Name(),
		"features", len(m.Header().FeatureNames), "classes", len(m.Header().ClassLabels))
	return m, nil
}

func main() {
	if err := newRootCommand(&cliContext{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
