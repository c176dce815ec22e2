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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decisionforests/treegemm/model"
	dt "github.com/decisionforests/treegemm/model/decisiontree"
	rf "github.com/decisionforests/treegemm/model/randomforest"
	"github.com/decisionforests/treegemm/serving/gemm"
)

type compileFlags struct {
	model  string
	output string
}

func newCompileCommand(c *cliContext) *cobra.Command {
	flags := &compileFlags{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the trees of a model into matrices",
		Long: `Compile the trees of a model into matrices and save them.

The compiled forest can be given to "predict --compiled" to skip the
compilation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.compile(flags)
		},
	}
	cmd.Flags().StringVar(&flags.model, "model", "", "Path to the model")
	cmd.Flags().StringVar(&flags.output, "output", "", "Path to the compiled forest file")
	return cmd
}

func (c *cliContext) compile(flags *compileFlags) error {
	if flags.output == "" {
		return fmt.Errorf("--output is required")
	}
	m, err := c.loadModel(flags.model)
	if err != nil {
		return err
	}
	forest, err := forestOf(m)
	if err != nil {
		return err
	}

	c.logger.Info("Compile model", "trees", len(forest.Trees))
	trees, err := gemm.CompileForest(forest)
	if err != nil {
		return err
	}
	for treeIdx, tree := range trees {
		c.logger.Debug("Compiled tree", "tree", treeIdx,
			"internal_nodes", tree.NumInternal(), "leaves", tree.NumLeaves(), "depth", tree.Depth)
	}

	if err := gemm.SaveForest(flags.output, trees); err != nil {
		return err
	}
	c.logger.Info("Saved compiled forest", "path", flags.output)
	return nil
}

// forestOf returns the trees of a model.
func forestOf(m model.Model) (*dt.Forest, error) {
	switch m := m.(type) {
	case *rf.Model:
		return m.Forest, nil
	}
	return nil, fmt.Errorf("the model %q cannot be compiled", m.Name())
}
