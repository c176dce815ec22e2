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

// Package io contains utilities to load/save decision trees
package io

import (
	"fmt"

	pb "github.com/decisionforests/treegemm/model/decisiontree/proto"
)

// Reader is a stream of nodes.
type Reader interface {

	// Next returns the next raw Node from the stream. Returns nil at the end of the
	// stream. "Close" should be called once the reading is done (even if file reaches end).
	Next() (*pb.Node, error)
	Close() error
}

// Writer is the writing counterpart of Reader.
type Writer interface {
	Write(node *pb.Node) error
	Close() error
}

// Format is a node file format.
type Format struct {
	NewReader func(path string) (Reader, error)
	NewWriter func(path string) (Writer, error)
}

// RegisteredFormats is the list of node formats, keyed by format name.
var RegisteredFormats = make(map[string]Format)

// ShardPath is the path of a given shard.
func ShardPath(path string, shardIdx int, numShards int) string {
	return fmt.Sprintf("%s-%05d-of-%05d", path, shardIdx, numShards)
}

func formatNames() []string {
	names := make([]string, 0, len(RegisteredFormats))
	for name := range RegisteredFormats {
		names = append(names, name)
	}
	return names
}

// NewNodeReader creates a new node reader from a sharded set of files.
func NewNodeReader(path string, numShards int, format string) (Reader, error) {
	builder, hasBuilder := RegisteredFormats[format]
	if !hasBuilder {
		return nil, fmt.Errorf("Unknown node format %q. The available node formats are: %v)", format, formatNames())
	}
	return &shardedNodeReader{path: path, numShards: numShards,
		createSubReader: builder.NewReader}, nil
}

// shardedNodeReader is a wrapper for sharded files.
type shardedNodeReader struct {
	path            string
	numShards       int
	nextShard       int
	createSubReader func(path string) (Reader, error)
	currentReader   Reader
}

func (s *shardedNodeReader) Next() (*pb.Node, error) {

	for {
		// Ensure one shard is being read
		if s.currentReader == nil {
			// The previous shard (if any) is done being read
			if s.nextShard == s.numShards {
				// No more nodes available
				return nil, nil
			}

			// Open the next shard.
			var err error
			s.currentReader, err = s.createSubReader(ShardPath(s.path, s.nextShard, s.numShards))
			if err != nil {
				return nil, err
			}
			s.nextShard++
		}

		// Read the next node
		node, err := s.currentReader.Next()
		if err != nil {
			// Reading error
			return nil, err
		}
		if node != nil {
			// Node read
			return node, nil
		}

		// End of this shard.
		err = s.currentReader.Close()
		if err != nil {
			// Error when closing the shard
			return nil, err
		}

		s.currentReader = nil
	}
}

func (s *shardedNodeReader) Close() error {
	if s.currentReader != nil {
		return s.currentReader.Close()
	}
	return nil
}

// ShardedWriter writes nodes in a sharded set of files. All the shard files
// are created, even if some of them are empty.
type ShardedWriter struct {
	path            string
	numShards       int
	currentShard    int
	createSubWriter func(path string) (Writer, error)
	currentWriter   Writer
}

// NewNodeWriter creates a node writer to a sharded set of files. The first
// shard is opened immediately. Use "NextShard" to move to the next shard.
func NewNodeWriter(path string, numShards int, format string) (*ShardedWriter, error) {
	if numShards <= 0 {
		return nil, fmt.Errorf("The number of shards should be positive. Got %d", numShards)
	}
	builder, hasBuilder := RegisteredFormats[format]
	if !hasBuilder || builder.NewWriter == nil {
		return nil, fmt.Errorf("Unknown node format %q. The available node formats are: %v)", format, formatNames())
	}
	s := &ShardedWriter{path: path, numShards: numShards, createSubWriter: builder.NewWriter}
	var err error
	s.currentWriter, err = s.createSubWriter(ShardPath(path, 0, numShards))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Write writes a node in the current shard.
func (s *ShardedWriter) Write(node *pb.Node) error {
	if s.currentWriter == nil {
		return fmt.Errorf("All the %d shards are already written", s.numShards)
	}
	return s.currentWriter.Write(node)
}

// NextShard closes the current shard and opens the next one (if any).
func (s *ShardedWriter) NextShard() error {
	if s.currentWriter == nil {
		return fmt.Errorf("All the %d shards are already written", s.numShards)
	}
	if err := s.currentWriter.Close(); err != nil {
		s.currentWriter = nil
		return err
	}
	s.currentWriter = nil
	s.currentShard++
	if s.currentShard == s.numShards {
		return nil
	}
	var err error
	s.currentWriter, err = s.createSubWriter(ShardPath(s.path, s.currentShard, s.numShards))
	return err
}

// Close closes the current shard. Shards that were never reached are not
// created.
func (s *ShardedWriter) Close() error {
	if s.currentWriter != nil {
		err := s.currentWriter.Close()
		s.currentWriter = nil
		return err
	}
	return nil
}
