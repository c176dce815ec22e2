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

// Package file is a slim portability layer on top of the "os" package. The
// model files, the compiled forests and the datasets go through it.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// File is an open file.
type File struct {
	file *os.File
}

// IO is the reading view of a file.
type IO io.ReadCloser

// WriteIO is the writing view of a file.
type WriteIO io.WriteCloser

// OpenRead opens a file for reading.
func OpenRead(ctx context.Context, name string) (File, error) {
	file, err := os.Open(name)
	return File{file: file}, err
}

// Create creates (or truncates) a file for writing.
func Create(ctx context.Context, name string) (File, error) {
	file, err := os.Create(name)
	return File{file: file}, err
}

// IO returns the reader of a file opened with OpenRead.
func (f *File) IO(ctx context.Context) IO {
	return f.file
}

// WriteIO returns the writer of a file opened with Create.
func (f *File) WriteIO(ctx context.Context) WriteIO {
	return f.file
}

// ReadFile returns the entire contents of the named file.
func ReadFile(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile replaces the content of a file.
func WriteFile(ctx context.Context, name string, data []byte) error {
	return os.WriteFile(name, data, 0644)
}

// MkdirAll creates a directory and all its missing parents.
func MkdirAll(ctx context.Context, name string) error {
	return os.MkdirAll(name, 0755)
}

// Match returns the paths of the files matching a glob pattern, in lexical
// order.
func Match(ctx context.Context, pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}
