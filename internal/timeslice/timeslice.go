// Package timeslice records named durations to a binary trace file. It is
// used to attribute time to the phases of compilation and execution.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x4a54534c // "JTSL"
	Version uint32 = 1

	// records start on this boundary after the kind table
	headerAlign = 512
)

type header struct {
	Magic      uint32
	Version    uint32
	KindsBytes uint32
}

type ID uint64

const InvalidID = ID(0)

type Flags uint32

const (
	// FlagCompile marks time spent generating or placing code.
	FlagCompile Flags = 1 << iota
	// FlagExecute marks time spent running generated code.
	FlagExecute
)

func (f Flags) String() string {
	var names []string
	if f&FlagCompile != 0 {
		names = append(names, "compile")
	}
	if f&FlagExecute != 0 {
		names = append(names, "execute")
	}
	return strings.Join(names, ",")
}

type Kind struct {
	Name  string
	Flags Flags
}

var (
	kindsMu sync.Mutex
	kinds   = make(map[ID]Kind)
)

// RegisterKind is usually called from package-level var initializers.
func RegisterKind(name string, flags Flags) ID {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	id := ID(len(kinds) + 1)
	kinds[id] = Kind{Name: name, Flags: flags}
	return id
}

type record struct {
	ID       ID
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w    io.Writer
	recs chan record
	done chan error
}

func (w *writer) run() {
	bw := bufio.NewWriterSize(w.w, 64*recordSize)
	var buf [16]byte
	for rec := range w.recs {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.ID))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(rec.Duration))
		if _, err := bw.Write(buf[:]); err != nil {
			w.done <- err
			// drain so Record never blocks
			for range w.recs {
			}
			return
		}
	}
	w.done <- bw.Flush()
}

func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return errors.New("timeslice: already closed")
	}
	close(w.recs)
	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Record appends one sample. It does nothing unless recording.
func Record(id ID, d time.Duration) {
	if w := current.Load(); w != nil {
		w.recs <- record{ID: id, Duration: d.Nanoseconds()}
	}
}

// Since records the time elapsed from start and returns the current time,
// so consecutive phases can be chained.
func Since(id ID, start time.Time) time.Time {
	now := time.Now()
	Record(id, now.Sub(start))
	return now
}

func Recording() bool { return current.Load() != nil }

// StartRecording writes the kind table to w and records to it until the
// returned Closer is closed. Only one recording may be active.
func StartRecording(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, errors.New("timeslice: already recording")
	}

	kindsMu.Lock()
	table, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:      Magic,
		Version:    Version,
		KindsBytes: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(len(table)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{w: w, recs: make(chan record, 1024), done: make(chan error, 1)}
	if !current.CompareAndSwap(nil, wr) {
		return nil, errors.New("timeslice: already recording")
	}
	go wr.run()
	return wr, nil
}

func padding(tableLen int) int {
	off := binary.Size(header{}) + tableLen
	if off%headerAlign == 0 {
		return 0
	}
	return headerAlign - off%headerAlign
}

// ReadAllRecords calls fn for every record in a trace written by
// StartRecording.
func ReadAllRecords(r io.Reader, fn func(name string, flags Flags, d time.Duration) error) error {
	buf := bufio.NewReader(r)

	var h header
	if err := binary.Read(buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if h.Magic != Magic {
		return errors.New("timeslice: invalid magic")
	}
	if h.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", h.Version)
	}

	var table map[ID]Kind
	if err := json.NewDecoder(io.LimitReader(buf, int64(h.KindsBytes))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if _, err := buf.Discard(padding(int(h.KindsBytes))); err != nil {
		return fmt.Errorf("timeslice: skip padding: %w", err)
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		kind, ok := table[rec.ID]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.ID)
		}
		if err := fn(kind.Name, kind.Flags, time.Duration(rec.Duration)); err != nil {
			return err
		}
	}
}

// Total is the aggregate of every record of one kind.
type Total struct {
	Name  string
	Flags Flags
	Count int
	Sum   time.Duration
	Max   time.Duration
}

func (t Total) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Sum / time.Duration(t.Count)
}

// Summarize reads a trace and returns per-kind totals, largest sum first.
func Summarize(r io.Reader) ([]Total, error) {
	byName := make(map[string]*Total)
	err := ReadAllRecords(r, func(name string, flags Flags, d time.Duration) error {
		t, ok := byName[name]
		if !ok {
			t = &Total{Name: name, Flags: flags}
			byName[name] = t
		}
		t.Count++
		t.Sum += d
		t.Max = max(t.Max, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Total, 0, len(byName))
	for _, t := range byName {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sum != out[j].Sum {
			return out[i].Sum > out[j].Sum
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
