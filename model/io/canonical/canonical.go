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

// Package canonical exposes the functions of "model/io" and links the
// canonical model implementations. Binaries should import it rather than
// "model/io".
package canonical

import (
	model_io "github.com/decisionforests/treegemm/model/io"

	_ "github.com/decisionforests/treegemm/model/canonical"
)

// See "model/io".
var (
	LoadModel           = model_io.LoadModel
	LoadModelWithPrefix = model_io.LoadModelWithPrefix
	SaveModel           = model_io.SaveModel
	SaveModelWithPrefix = model_io.SaveModelWithPrefix
	DetectFilePrefix    = model_io.DetectFilePrefix
)
