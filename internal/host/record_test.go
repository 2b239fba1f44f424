package host

import "testing"

func TestRecordEmitTerminalClosesChannel(t *testing.T) {
	t.Parallel()
	r := NewRecord(CapDesktop, 1, Note{Title: "t"})

	r.Emit(Signal{Kind: SignalShow})
	r.Emit(Signal{Kind: SignalClose})
	// After a terminal signal everything is ignored, not panicking.
	r.Emit(Signal{Kind: SignalClick})
	r.Emit(Signal{Kind: SignalClose})

	var got []SignalKind
	for s := range r.Signals() {
		got = append(got, s.Kind)
	}
	if len(got) != 2 || got[0] != SignalShow || got[1] != SignalClose {
		t.Fatalf("signals = %v, want [show close]", got)
	}
}

func TestRecordEmitTerminalDisplacesWhenFull(t *testing.T) {
	t.Parallel()
	r := NewRecord(CapDesktop, 1, Note{Title: "t"})

	// Fill the buffer with clicks, then emit the terminal signal.
	for i := 0; i < signalBuffer+4; i++ {
		r.Emit(Signal{Kind: SignalClick})
	}
	r.Emit(Signal{Kind: SignalCancel})

	last := Signal{}
	n := 0
	for s := range r.Signals() {
		last = s
		n++
	}
	if n == 0 || last.Kind != SignalCancel {
		t.Fatalf("last of %d signals = %s, want cancel", n, last.Kind)
	}
}

func TestRecordEmitNilSafe(t *testing.T) {
	t.Parallel()
	var r *Record
	r.Emit(Signal{Kind: SignalShow})
	(&Record{}).Emit(Signal{Kind: SignalShow})
}
