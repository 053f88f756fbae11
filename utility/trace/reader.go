// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/pierrec/lz4"

	"github.com/devblok/koruframe/reclaim"
)

const maxHeaderSize = 64 << 20

// Open opens the archive in r. It checks that r actually holds an
// archive and reads its header.
func Open(r io.ReaderAt) (*Archive, error) {
	prefix := make([]byte, len(Magic)+binary.MaxVarintLen64)
	n, err := r.ReadAt(prefix, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	prefix = prefix[:n]
	if n < len(Magic)+1 || string(prefix[:len(Magic)]) != string(Magic[:]) {
		return nil, ErrFileFormat
	}

	headerSize, sizeLen := binary.Uvarint(prefix[len(Magic):])
	if sizeLen <= 0 || headerSize == 0 || headerSize > maxHeaderSize {
		return nil, ErrFileFormat
	}
	start := int64(len(Magic) + sizeLen)

	rawHeader := make([]byte, headerSize)
	if n, err := r.ReadAt(rawHeader, start); uint64(n) < headerSize {
		if err == nil || err == io.EOF {
			err = ErrFileFormat
		}
		return nil, err
	}

	ar := &Archive{reader: r, base: start + int64(headerSize)}
	if err := gobDecode(&ar.header, rawHeader); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	if ar.header.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrFileFormat, ar.header.Version)
	}
	return ar, nil
}

// Archive reads chunks of an archive. It can be read from concurrently
// when its io.ReaderAt can.
type Archive struct {
	reader io.ReaderAt
	base   int64
	header Header
}

// Header returns the archive header.
func (a *Archive) Header() Header {
	return a.header
}

// Names returns the chunk names in the order they were written.
func (a *Archive) Names() []string {
	names := make([]string, len(a.header.Index))
	for i, e := range a.header.Index {
		names[i] = e.Name
	}
	return names
}

// Open returns a reader of the decompressed chunk name.
func (a *Archive) Open(name string) (io.Reader, error) {
	entry, ok := a.header.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchChunk, name)
	}
	section := io.NewSectionReader(a.reader, a.base+entry.Offset, entry.CompressedSize)
	return lz4.NewReader(section), nil
}

// ReadAll returns the entire decompressed chunk name.
func (a *Archive) ReadAll(name string) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %q: %v", ErrFileFormat, name, err)
	}
	return data, nil
}

// Events decodes the destructions recorded in chunk name.
func (a *Archive) Events(name string) ([]reclaim.Event, error) {
	data, err := a.ReadAll(name)
	if err != nil {
		return nil, err
	}
	var events []reclaim.Event
	if err := gobDecode(&events, data); err != nil {
		return nil, fmt.Errorf("%w: chunk %q: %v", ErrFileFormat, name, err)
	}
	return events, nil
}
