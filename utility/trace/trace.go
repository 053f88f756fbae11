// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package trace stores destruction traces in an lz4 backed archive.
// Every chunk of the archive is compressed on its own and the header
// indexes all of them up front, so an archive can be memory mapped and a
// single chunk decompressed without touching the others. A Recorder
// observes a reclaim.Sink and writes one chunk per frame slot clear.
package trace

import (
	"bytes"
	"encoding/gob"
	"errors"
)

// package errors
var (
	ErrFileFormat  = errors.New("corrupted or not a trace archive")
	ErrNoSuchChunk = errors.New("no such chunk in the archive")
)

// Magic starts every archive.
var Magic = [...]byte{'K', 'T', 'R', '\x00'}

// Version of the archive layout written by Builder.
const Version = 1

// IndexEntry locates one chunk. Offset is relative to the end of the header.
type IndexEntry struct {
	Name           string
	Offset         int64
	Size           int64
	CompressedSize int64
	Events         int
}

// Header is the gob encoded archive header.
type Header struct {
	Author      string
	DateCreated int64
	Version     int64
	FrameCount  int
	Index       []IndexEntry
}

// Lookup returns the index entry of the chunk name.
func (h Header) Lookup(name string) (IndexEntry, bool) {
	for _, e := range h.Index {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

func gobEncode(data interface{}) ([]byte, error) {
	var encoded bytes.Buffer
	enc := gob.NewEncoder(&encoded)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}

func gobDecode(obj interface{}, bts []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(bts))
	return dec.Decode(obj)
}
