// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package trace

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pierrec/lz4"
)

// NewBuilder creates a new Builder. Do not fill the Index in
// the header, it will be overwritten anyway.
func NewBuilder(header Header) *Builder {
	header.Version = Version
	return &Builder{header: header}
}

type chunk struct {
	name       string
	size       int64
	events     int
	compressed []byte
}

// Builder collects compressed chunks and writes them out as an archive.
// Archives cannot be appended to once written.
type Builder struct {
	header Header

	mutex  sync.Mutex
	chunks []chunk
}

// Add compresses data and appends it as chunk name. It is safe to use
// concurrently.
func (b *Builder) Add(name string, data []byte) error {
	return b.add(name, data, 0)
}

func (b *Builder) add(name string, data []byte, events int) error {
	var compressed bytes.Buffer
	writer := lz4.NewWriter(&compressed)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.chunks = append(b.chunks, chunk{
		name:       name,
		size:       int64(len(data)),
		events:     events,
		compressed: compressed.Bytes(),
	})
	return nil
}

// Len returns the number of chunks added.
func (b *Builder) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.chunks)
}

// WriteTo writes the magic, the varint encoded header size, the header and
// then every chunk in the order they were added.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	header := b.header
	header.Index = make([]IndexEntry, 0, len(b.chunks))
	var offset int64
	for _, c := range b.chunks {
		header.Index = append(header.Index, IndexEntry{
			Name:           c.name,
			Offset:         offset,
			Size:           c.size,
			CompressedSize: int64(len(c.compressed)),
			Events:         c.events,
		})
		offset += int64(len(c.compressed))
	}

	rawHeader, err := gobEncode(header)
	if err != nil {
		return 0, err
	}
	prefix := make([]byte, len(Magic)+binary.MaxVarintLen64)
	copy(prefix, Magic[:])
	n := binary.PutUvarint(prefix[len(Magic):], uint64(len(rawHeader)))
	prefix = prefix[:len(Magic)+n]

	var written int64
	for _, part := range [][]byte{prefix, rawHeader} {
		n, err := w.Write(part)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	for _, c := range b.chunks {
		n, err := w.Write(c.compressed)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
