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
	"strings"

	"github.com/decisionforests/treegemm/serving/engine"
	"github.com/decisionforests/treegemm/serving/example"
	"github.com/decisionforests/treegemm/utils/file"
)

// loadDataset loads all the examples of a typed dataset path in a batch
// allocated by the engine.
func loadDataset(engine engine.Engine, typedPath string) (*example.Batch, error) {
	format, path, err := parseTypedPath(typedPath)
	if err != nil {
		return nil, err
	}
	switch format {
	case "csv":
		return loadDatasetCsv(engine, path)
	default:
		return nil, fmt.Errorf("non supported dataset format %q", format)
	}
}

// parseTypedPath parses a typed path into its constituents.
//
// For example:
//
//	Input: "csv:/path/to/file.csv"
//	Results:
//	  1. "csv"
//	  2. "/path/to/file.csv"
//	  3. nil (i.e. no error)
func parseTypedPath(typedPath string) (pathType string, path string, err error) {
	pathType, path, found := strings.Cut(typedPath, ":")
	if !found {
		return "", "", fmt.Errorf("malformed typed dataset path. Expecting [format]:[path]. Instead, got %q", typedPath)
	}
	return pathType, path, nil
}

func loadDatasetCsv(engine engine.Engine, path string) (*example.Batch, error) {
	// Read the csv content.
	fileHandle, err := file.OpenRead(context.Background(), path)
	if err != nil {
		return nil, err
	}
	fileIO := fileHandle.IO(context.Background())
	defer fileIO.Close()
	csvData, err := csv.NewReader(fileIO).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(csvData) == 0 {
		return nil, fmt.Errorf("the csv file %q has no header", path)
	}

	// Skip the header file
	csvHeader := csvData[0]
	csvData = csvData[1:]
	numExamples := len(csvData)

	// Convert the csv into a "Batch".
	examples := engine.AllocateExamples(numExamples)
	for exampleIdx := 0; exampleIdx < numExamples; exampleIdx++ {
		if err := examples.SetFromFields(exampleIdx, csvHeader, csvData[exampleIdx]); err != nil {
			return nil, err
		}
	}
	return examples, nil
}
