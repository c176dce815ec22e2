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

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/decisionforests/treegemm/serving"
	"github.com/decisionforests/treegemm/serving/engine"
	"github.com/decisionforests/treegemm/serving/example"
	"github.com/decisionforests/treegemm/utils/file"
)

type predictFlags struct {
	model     string
	dataset   string
	output    string
	compiled  string
	batchSize int
}

func newPredictCommand(c *cliContext) *cobra.Command {
	flags := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the class of the examples of a dataset",
		Long: `Predict the class of the examples of a dataset.

The output is a csv file with the predicted class label followed by the
fraction of the trees voting for each class.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.predict(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.model, "model", "", "Path to the model")
	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "Typed path to the dataset e.g. csv:/tmp/my_file.csv")
	cmd.Flags().StringVar(&flags.output, "output", "", "Path to the output csv file. Prints on the standard output if empty")
	cmd.Flags().StringVar(&flags.compiled, "compiled", "", "Optional compiled forest created with the \"compile\" command")
	cmd.Flags().IntVar(&flags.batchSize, "batch_size", 1000, "Number of examples evaluated together")
	return cmd
}

func (c *cliContext) predict(cmd *cobra.Command, flags *predictFlags) error {
	if flags.batchSize <= 0 {
		return fmt.Errorf("--batch_size should be greater or equal to 1")
	}
	options, err := c.options(cmd)
	if err != nil {
		return err
	}
	if flags.compiled != "" {
		options.CompiledForestPath = flags.compiled
	}

	model, err := c.loadModel(flags.model)
	if err != nil {
		return err
	}
	engine, err := serving.NewEngine(model, options)
	if err != nil {
		return err
	}
	c.logger.Debug("Built engine", "type", fmt.Sprintf("%T", engine), "features", engine.Features().NumFeatures())

	c.logger.Info("Load dataset", "path", flags.dataset)
	dataset, err := loadDataset(engine, flags.dataset)
	if err != nil {
		return err
	}

	classLabels := model.Header().ClassLabels
	write := func(out io.Writer) error {
		return writePredictions(out, engine, dataset, classLabels, flags.batchSize)
	}
	if flags.output == "" {
		if err := write(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else {
		fileHandle, err := file.Create(context.Background(), flags.output)
		if err != nil {
			return err
		}
		if err := writeAndClose(fileHandle.WriteIO(context.Background()), write); err != nil {
			return fmt.Errorf("cannot write the predictions to %q: %w", flags.output, err)
		}
	}
	c.logger.Info("Predictions done", "examples", dataset.NumAllocatedExamples())
	return nil
}

// writePredictions predicts the dataset "batchSize" examples at a time and
// writes one csv row per example.
func writePredictions(out io.Writer, engine engine.Engine, dataset *example.Batch, classLabels []string, batchSize int) error {
	if len(classLabels) != engine.OutputDim() {
		return fmt.Errorf("the model has %d class labels but the engine predicts %d classes",
			len(classLabels), engine.OutputDim())
	}
	writer := csv.NewWriter(out)
	if err := writer.Write(append([]string{"label"}, classLabels...)); err != nil {
		return err
	}

	numClasses := engine.OutputDim()
	numExamples := dataset.NumAllocatedExamples()
	batch := engine.AllocateExamples(batchSize)
	predictions := engine.AllocatePredictions(batchSize)
	row := make([]string, numClasses+1)
	for beginIdx := 0; beginIdx < numExamples; beginIdx += batchSize {
		endIdx := min(beginIdx+batchSize, numExamples)
		batch.CopyFrom(dataset, beginIdx, endIdx)
		if err := engine.Predict(batch, endIdx-beginIdx, predictions); err != nil {
			return err
		}
		for exampleIdx := 0; exampleIdx < endIdx-beginIdx; exampleIdx++ {
			votes := predictions[exampleIdx*numClasses : (exampleIdx+1)*numClasses]
			row[0] = classLabels[argmax(votes)]
			for class, vote := range votes {
				row[class+1] = strconv.FormatFloat(float64(vote), 'g', -1, 32)
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeAndClose calls "write" on "out" then closes it. The close error is
// returned if "write" succeeded.
func writeAndClose(out io.WriteCloser, write func(io.Writer) error) (err error) {
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()
	return write(out)
}

// argmax returns the index of the largest value. Ties go to the lowest index.
func argmax(values []float32) int {
	best := 0
	for i, value := range values {
		if value > values[best] {
			best = i
		}
	}
	return best
}
