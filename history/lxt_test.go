package history

import (
	"bytes"
	"strings"
	"testing"

	"github.com/JohanSmet/dromaius/signal"
)

func TestWriteLXTPreambleDeclaresSignals(t *testing.T) {
	pool := signal.NewPool()
	a, _ := pool.Create()
	b, _ := pool.Create()
	if err := pool.Name(a, "reset_b"); err != nil {
		t.Fatalf("Name: %v", err)
	}
	// b is left unnamed on purpose to exercise the sigN fallback.

	r := NewRecorder(8, DropOldest)
	r.Record(100, a, true)
	r.Record(200, b, false)
	r.Close()

	var buf bytes.Buffer
	if err := WriteLXT(&buf, pool, []signal.Signal{a, b}, r); err != nil {
		t.Fatalf("WriteLXT: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "$var wire 1 0 reset_b $end") {
		t.Fatalf("preamble missing named symbol declaration:\n%s", out)
	}
	if !strings.Contains(out, "sig") {
		t.Fatalf("preamble missing fallback name for unnamed signal:\n%s", out)
	}
	if !strings.Contains(out, "#100\n1") {
		t.Fatalf("body missing first entry:\n%s", out)
	}
	if !strings.Contains(out, "#200\n0") {
		t.Fatalf("body missing second entry:\n%s", out)
	}
}

func TestWriteEntryRejectsOutOfOrderTicks(t *testing.T) {
	pool := signal.NewPool()
	a, _ := pool.Create()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, pool, []signal.Signal{a})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteEntry(Entry{Tick: 10, Signal: a, Value: true}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := w.WriteEntry(Entry{Tick: 5, Signal: a, Value: false}); err == nil {
		t.Fatalf("expected an error writing a tick earlier than the previous entry")
	}
}

func TestWriteEntryRejectsUndeclaredSignal(t *testing.T) {
	pool := signal.NewPool()
	a, _ := pool.Create()
	other, _ := pool.Create()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, pool, []signal.Signal{a})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteEntry(Entry{Tick: 1, Signal: other, Value: true}); err == nil {
		t.Fatalf("expected an error writing an entry for a signal not declared in the preamble")
	}
}
