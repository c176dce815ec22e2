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

// Package blobsequence implement node reading and writing in blob sequence
// files. Each blob is a serialized node.
package blobsequence

import (
	"context"

	nodeIO "github.com/decisionforests/treegemm/model/decisiontree/io"
	pb "github.com/decisionforests/treegemm/model/decisiontree/proto"
	"github.com/decisionforests/treegemm/utils/blobsequence"
)

// FormatKey is the unique identifier of the blob sequence node format.
const FormatKey = "BLOB_SEQUENCE"

func init() {
	// Register the format.
	nodeIO.RegisteredFormats[FormatKey] = nodeIO.Format{NewReader: newReader, NewWriter: newWriter}
}

// nodeReader is a single file reader on Blob Sequence format.
type nodeReader struct {
	blobs *blobsequence.Reader
}

func (r *nodeReader) Next() (*pb.Node, error) {
	blob, err := r.blobs.Next()
	if err != nil || blob == nil {
		return nil, err
	}
	node := &pb.Node{}
	if err := node.Unmarshal(blob); err != nil {
		return nil, err
	}
	return node, nil
}

func (r *nodeReader) Close() error {
	return r.blobs.Close()
}

// newReader creates a node reader for a blob sequence file.
func newReader(path string) (nodeIO.Reader, error) {
	blobs, err := blobsequence.OpenReader(context.Background(), path)
	if err != nil {
		return nil, err
	}
	return &nodeReader{blobs: blobs}, nil
}

// nodeWriter is a single file writer on Blob Sequence format.
type nodeWriter struct {
	blobs *blobsequence.Writer
}

func (w *nodeWriter) Write(node *pb.Node) error {
	return w.blobs.Write(node.Marshal())
}

func (w *nodeWriter) Close() error {
	return w.blobs.Close()
}

// newWriter creates a node writer for a blob sequence file.
func newWriter(path string) (nodeIO.Writer, error) {
	blobs, err := blobsequence.CreateWriter(context.Background(), path)
	if err != nil {
		return nil, err
	}
	return &nodeWriter{blobs: blobs}, nil
}
