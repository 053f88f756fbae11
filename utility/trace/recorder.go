// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/devblok/koruframe/reclaim"
)

// ChunkName is the name of the chunk holding the destructions of the
// slot clear with sequence number seq.
func ChunkName(seq uint64) string {
	return fmt.Sprintf("clear/%08d", seq)
}

// Recorder is a reclaim.Observer writing every slot clear into its own
// chunk of a Builder.
type Recorder struct {
	builder *Builder

	mutex   sync.Mutex
	seq     uint64
	pending []reclaim.Event
	err     error
}

// NewRecorder creates a Recorder adding chunks to b.
func NewRecorder(b *Builder) *Recorder {
	return &Recorder{builder: b}
}

// Destroyed implements reclaim.Observer.
func (r *Recorder) Destroyed(ev reclaim.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.pending) > 0 && ev.Clear != r.seq {
		r.flush()
	}
	r.seq = ev.Clear
	r.pending = append(r.pending, ev)
}

// flush writes the pending clear. Callers hold the mutex.
func (r *Recorder) flush() {
	if len(r.pending) == 0 {
		return
	}
	events := r.pending
	r.pending = nil
	data, err := gobEncode(events)
	if err == nil {
		err = r.builder.add(ChunkName(r.seq), data, len(events))
	}
	if err != nil && r.err == nil {
		r.err = err
	}
}

// Flush writes out the clear still being collected and returns the first
// error met while encoding chunks.
func (r *Recorder) Flush() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.flush()
	return r.err
}

// WriteTo flushes and writes the archive to w.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	if err := r.Flush(); err != nil {
		return 0, err
	}
	return r.builder.WriteTo(w)
}
