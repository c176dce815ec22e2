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

// Package test contains small assertion helpers shared by the unit tests.
package test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// CheckEq fails the test if "got" and "want" are different. "msg" is a free
// text added to the failure report.
func CheckEq(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", msg, diff)
	}
}

// CheckNearFloat32 fails the test if "got" and "want" are more than "margin"
// apart.
func CheckNearFloat32(t *testing.T, got, want, margin float32, msg string) {
	t.Helper()
	if math.Abs(float64(got-want)) > float64(margin) {
		t.Errorf("%s: got %v, want %v (margin %v)", msg, got, want, margin)
	}
}

// CheckNearFloat64 is the float64 version of CheckNearFloat32.
func CheckNearFloat64(t *testing.T, got, want, margin float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > margin {
		t.Errorf("%s: got %v, want %v (margin %v)", msg, got, want, margin)
	}
}

// CheckErrorAs fails the test if "err" does not match the type pointed by
// "target" in the sense of errors.As.
func CheckErrorAs(t *testing.T, err error, target interface{}, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected an error of type %T, got nil", msg, target)
		return
	}
	if !errors.As(err, target) {
		t.Errorf("%s: error %q (%T) does not match %T", msg, err, err, target)
	}
}
