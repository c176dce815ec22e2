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

// Package blobsequence reads and writes blob sequence files.
//
// A blob sequence file is:
//
//	"BS" (2 bytes magic) | version (uint16, 0) | reserved (uint32)
//	followed by records: length (uint32) | payload (length bytes)
//
// All the integers are little endian.
package blobsequence

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/decisionforests/treegemm/utils/file"
)

// Reader reads the blobs of a blob sequence file one by one.
type Reader struct {
	fileIO     io.ReadCloser
	bufferedIO *bufio.Reader
	version    uint16
	// "buffer" is reused in between "Next" calls.
	buffer []byte
}

// OpenReader opens a blob sequence file and checks its header.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	fileHandle, err := file.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	fileIO := fileHandle.IO(ctx)
	reader, err := NewReader(fileIO)
	if err != nil {
		fileIO.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reader, nil
}

// NewReader creates a reader on top of "src" and consumes the header. Closing
// the reader closes "src".
func NewReader(src io.ReadCloser) (*Reader, error) {
	bufferedIO := bufio.NewReader(src)

	// The first two bytes should be "BS" in ascii (for "blob sequence").
	var magic [2]byte
	if _, err := io.ReadFull(bufferedIO, magic[:]); err != nil {
		return nil, err
	}
	if magic[0] != 'B' || magic[1] != 'S' {
		return nil, fmt.Errorf("Invalid header")
	}

	var version uint16
	if err := binary.Read(bufferedIO, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != 0 {
		// Only the version 0 is currently supported.
		return nil, fmt.Errorf("Non supported file version %d", version)
	}

	var reserved uint32
	if err := binary.Read(bufferedIO, binary.LittleEndian, &reserved); err != nil {
		return nil, err
	}

	return &Reader{
		fileIO:     src,
		bufferedIO: bufferedIO,
		version:    version,
		buffer:     make([]byte, 512),
	}, nil
}

// Next returns the next blob, or nil at the end of the sequence. The returned
// slice is only valid until the next call to "Next".
func (r *Reader) Next() ([]byte, error) {
	var length uint32
	err := binary.Read(r.bufferedIO, binary.LittleEndian, &length)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(r.buffer) < int(length) {
		r.buffer = make([]byte, length)
	}
	if _, err := io.ReadFull(r.bufferedIO, r.buffer[:length]); err != nil {
		return nil, err
	}
	return r.buffer[:length], nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.fileIO != nil {
		return r.fileIO.Close()
	}
	return nil
}

// Writer writes a blob sequence file.
type Writer struct {
	fileIO     io.WriteCloser
	bufferedIO *bufio.Writer
}

// CreateWriter creates a blob sequence file and writes its header.
func CreateWriter(ctx context.Context, path string) (*Writer, error) {
	fileHandle, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(fileHandle.WriteIO(ctx))
	if err != nil {
		fileHandle.WriteIO(ctx).Close()
		return nil, err
	}
	return writer, nil
}

// NewWriter creates a writer on top of "dst" and writes the header. Closing
// the writer closes "dst".
func NewWriter(dst io.WriteCloser) (*Writer, error) {
	w := &Writer{fileIO: dst, bufferedIO: bufio.NewWriter(dst)}
	header := []byte{'B', 'S', 0, 0, 0, 0, 0, 0}
	if _, err := w.bufferedIO.Write(header); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a blob to the sequence.
func (w *Writer) Write(blob []byte) error {
	if uint64(len(blob)) > math.MaxUint32 {
		return fmt.Errorf("blob of %d bytes is too large", len(blob))
	}
	if err := binary.Write(w.bufferedIO, binary.LittleEndian, uint32(len(blob))); err != nil {
		return err
	}
	_, err := w.bufferedIO.Write(blob)
	return err
}

// Close flushes the pending blobs and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.bufferedIO.Flush(); err != nil {
		w.fileIO.Close()
		return err
	}
	return w.fileIO.Close()
}
