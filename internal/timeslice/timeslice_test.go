package timeslice

import (
	"bytes"
	"testing"
	"time"
)

var (
	kindCompile = RegisterKind("test::compile", FlagCompile)
	kindRun     = RegisterKind("test::run", FlagExecute)
)

func TestRecordAndRead(t *testing.T) {
	var buf bytes.Buffer
	w, err := StartRecording(&buf)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := StartRecording(&bytes.Buffer{}); err == nil {
		t.Fatalf("expected second recording to fail")
	}
	Record(kindCompile, 3*time.Millisecond)
	Record(kindRun, time.Millisecond)
	Record(kindCompile, 5*time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Fatalf("expected double close to fail")
	}
	if Recording() {
		t.Fatalf("still recording after Close")
	}

	var names []string
	if err := ReadAllRecords(bytes.NewReader(buf.Bytes()), func(name string, flags Flags, d time.Duration) error {
		names = append(names, name)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(names) != 3 || names[1] != "test::run" {
		t.Fatalf("records = %v", names)
	}

	totals, err := Summarize(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("got %d totals, want 2", len(totals))
	}
	first := totals[0]
	if first.Name != "test::compile" || first.Count != 2 || first.Sum != 8*time.Millisecond ||
		first.Max != 5*time.Millisecond || first.Mean() != 4*time.Millisecond {
		t.Fatalf("compile total = %+v", first)
	}
	if first.Flags.String() != "compile" {
		t.Fatalf("flags = %q", first.Flags)
	}
}

func TestRecordWithoutWriter(t *testing.T) {
	// Must not block or panic.
	Record(kindRun, time.Second)
	start := time.Now()
	if got := Since(kindRun, start); got.Before(start) {
		t.Fatalf("Since returned an earlier time")
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if err := ReadAllRecords(bytes.NewReader(make([]byte, 64)), func(string, Flags, time.Duration) error { return nil }); err == nil {
		t.Fatalf("expected invalid magic error")
	}
}
