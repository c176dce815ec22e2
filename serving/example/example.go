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

// Package example defines "Batch": a batch of examples; and "Features": the
// definition of the input features of a model.
package example

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	model_pb "github.com/decisionforests/treegemm/model/proto"
)

// NumericalFeatureID is the unique identifier of a numerical feature. It is
// also the column of the feature in a batch.
type NumericalFeatureID int

// Features contains the definition of the input features of a model.
type Features struct {
	// NumericalFeatures is the mapping between feature names and feature ids.
	NumericalFeatures map[string]NumericalFeatureID

	// Names of the features, indexed by NumericalFeatureID.
	Names []string
}

// NewFeatures creates the features of a model from its header.
func NewFeatures(header *model_pb.AbstractModel) (*Features, error) {
	return NewFeaturesFromNames(header.FeatureNames)
}

// NewFeaturesFromNames creates features from a list of names. The i-th name
// is the feature with id i.
func NewFeaturesFromNames(names []string) (*Features, error) {
	features := &Features{
		NumericalFeatures: make(map[string]NumericalFeatureID, len(names)),
		Names:             append([]string(nil), names...),
	}
	for idx, name := range names {
		if _, exists := features.NumericalFeatures[name]; exists {
			return nil, fmt.Errorf("duplicated feature name %q", name)
		}
		features.NumericalFeatures[name] = NumericalFeatureID(idx)
	}
	return features, nil
}

// AnonymousFeatures creates "numFeatures" features named "f0", "f1"...
func AnonymousFeatures(numFeatures int) *Features {
	names := make([]string, numFeatures)
	for i := range names {
		names[i] = "f" + strconv.Itoa(i)
	}
	// Generated names are unique.
	features, _ := NewFeaturesFromNames(names)
	return features
}

// NumFeatures is the number of features.
func (f *Features) NumFeatures() int {
	return len(f.Names)
}

// InvalidValueError reports a feature value that cannot be evaluated: a NaN,
// an infinity or a value too large for the precision of the engine.
type InvalidValueError struct {
	Example int
	Feature string
	Value   float64
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %v for feature %q of example %d", e.Value, e.Feature, e.Example)
}

// Batch is a set of examples stored as a dense row-major matrix: one row per
// example and one column per feature.
type Batch struct {
	features    *Features
	numExamples int

	// {Example major, feature minor} feature values.
	Values []float64
}

// NewBatch creates a batch of examples. All the values are zero.
func NewBatch(numExamples int, features *Features) *Batch {
	return &Batch{
		numExamples: numExamples,
		features:    features,
		Values:      make([]float64, features.NumFeatures()*numExamples),
	}
}

// NewBatchFromValues creates a batch around existing row-major values. The
// values are not copied.
func NewBatchFromValues(numExamples int, features *Features, values []float64) (*Batch, error) {
	if len(values) != numExamples*features.NumFeatures() {
		return nil, fmt.Errorf("%d examples with %d features require %d values, got %d",
			numExamples, features.NumFeatures(), numExamples*features.NumFeatures(), len(values))
	}
	return &Batch{numExamples: numExamples, features: features, Values: values}, nil
}

// NumAllocatedExamples is the number of allocated examples.
func (batch *Batch) NumAllocatedExamples() int {
	return batch.numExamples
}

// NumFeatures is the number of features i.e. the number of columns.
func (batch *Batch) NumFeatures() int {
	return batch.features.NumFeatures()
}

// Features of the batch.
func (batch *Batch) Features() *Features {
	return batch.features
}

// Clear sets all the values to zero.
func (batch *Batch) Clear() {
	clear(batch.Values)
}

// SetNumerical sets the value of a feature.
func (batch *Batch) SetNumerical(exampleIdx int, feature NumericalFeatureID, value float64) {
	batch.Values[int(feature)+exampleIdx*batch.NumFeatures()] = value
}

// Numerical gets the value of a feature.
func (batch *Batch) Numerical(exampleIdx int, feature NumericalFeatureID) float64 {
	return batch.Values[int(feature)+exampleIdx*batch.NumFeatures()]
}

// Example returns the feature values of an example. The returned slice
// aliases the batch.
func (batch *Batch) Example(exampleIdx int) []float64 {
	numFeatures := batch.NumFeatures()
	return batch.Values[exampleIdx*numFeatures : (exampleIdx+1)*numFeatures]
}

// Head returns a batch containing the first "numExamples" examples. The
// returned batch shares its values with "batch".
func (batch *Batch) Head(numExamples int) (*Batch, error) {
	if numExamples < 0 || numExamples > batch.numExamples {
		return nil, fmt.Errorf("cannot take %d examples from a batch of %d examples",
			numExamples, batch.numExamples)
	}
	return &Batch{
		numExamples: numExamples,
		features:    batch.features,
		Values:      batch.Values[:numExamples*batch.NumFeatures()],
	}, nil
}

// CheckRange returns an InvalidValueError if a value of the first
// "numExamples" examples is NaN or larger than "maxAbs" in absolute value.
// Infinities are always rejected.
func (batch *Batch) CheckRange(numExamples int, maxAbs float64) error {
	numFeatures := batch.NumFeatures()
	for i, value := range batch.Values[:numExamples*numFeatures] {
		if math.IsNaN(value) || math.IsInf(value, 0) || math.Abs(value) > maxAbs {
			return &InvalidValueError{
				Example: i / numFeatures,
				Feature: batch.features.Names[i%numFeatures],
				Value:   value,
			}
		}
	}
	return nil
}

// SetFromFields sets all the fields of an example from a csv-like field and
// header. This method is slow and should not be used for speed-sensitive code.
//
// Columns not used by the model are ignored. Missing and non-finite values
// are not supported, and every feature of the model should be present
// exactly once in "header".
//
// Example:
//
//	examples.SetFromFields(0, ["a","b","c"], ["0.5","1","2"])
func (batch *Batch) SetFromFields(exampleIdx int, header []string, values []string) error {
	if len(header) != len(values) {
		return fmt.Errorf("the header has %d fields but the example has %d fields", len(header), len(values))
	}
	isSet := make([]bool, batch.NumFeatures())
	numSet := 0
	for fieldIdx, key := range header {
		featureID, found := batch.features.NumericalFeatures[key]
		if !found {
			// This column is not used by the model. We ignore it.
			continue
		}
		rawValue := strings.TrimSpace(values[fieldIdx])
		if rawValue == "" || rawValue == "NA" {
			return fmt.Errorf("missing value for feature %q in example %d", key, exampleIdx)
		}
		if isSet[featureID] {
			return fmt.Errorf("feature %q is set twice in example %d", key, exampleIdx)
		}
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return fmt.Errorf("cannot parse the value of feature %q in example %d: %w", key, exampleIdx, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &InvalidValueError{Example: exampleIdx, Feature: key, Value: value}
		}
		batch.SetNumerical(exampleIdx, featureID, value)
		isSet[featureID] = true
		numSet++
	}
	if numSet != batch.NumFeatures() {
		return fmt.Errorf("example %d sets %d of the %d features of the model", exampleIdx, numSet, batch.NumFeatures())
	}
	return nil
}

// CopyFrom copies the examples [beginIdx, endIdx) of another batch at the
// start of this batch. Assumes both batches have the same features (e.g. they
// are created by the same engine).
func (batch *Batch) CopyFrom(src *Batch, beginIdx int, endIdx int) {
	numFeatures := batch.NumFeatures()
	copy(
		batch.Values[:(endIdx-beginIdx)*numFeatures],
		src.Values[beginIdx*numFeatures:endIdx*numFeatures])
}

// ToStringDebug exports the content of the set of examples into a text-debug representation.
func (batch *Batch) ToStringDebug() string {
	var repr strings.Builder
	fmt.Fprintf(&repr, "batch with %v example(s)\n", batch.NumAllocatedExamples())
	for exampleIdx := 0; exampleIdx < batch.NumAllocatedExamples(); exampleIdx++ {
		fmt.Fprintf(&repr, "exampleIdx: %v\n", exampleIdx)
		for featureID, name := range batch.features.Names {
			fmt.Fprintf(&repr, "\"%v\" (NUMERICAL id:%v): \"%v\"\n", name, featureID,
				batch.Numerical(exampleIdx, NumericalFeatureID(featureID)))
		}
	}
	return repr.String()
}
