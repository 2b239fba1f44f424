package host

import "sync"

// SignalKind is one native lifecycle signal of a displayed notification.
type SignalKind string

const (
	SignalShow   SignalKind = "show"
	SignalError  SignalKind = "error"
	SignalClick  SignalKind = "click"
	SignalClose  SignalKind = "close"
	SignalCancel SignalKind = "cancel"
)

// Signal is one event delivered by the context for a live record.
type Signal struct {
	Kind SignalKind
	// Err carries the error text for SignalError, empty otherwise.
	Err string
}

// signalBuffer must be large enough that a close signal behind a burst of
// clicks is not dropped.
const signalBuffer = 16

// Record is one live native notification. It is owned by the dispatch core's
// registry while displayed; the Env that produced it feeds its signal channel.
type Record struct {
	// NativeID is the context-side identifier, -1 when the mechanism has none
	// (service-worker records are identified by the registry id instead).
	NativeID int64

	Tag   string
	Title string
	Body  string
	Icon  string

	// Cap is the mechanism that produced this record.
	Cap Capability

	mu   sync.Mutex
	done bool
	sig  chan Signal
}

// NewRecord builds a record for the given mechanism.
func NewRecord(cap Capability, nativeID int64, n Note) *Record {
	return &Record{
		NativeID: nativeID,
		Tag:      n.Tag,
		Title:    n.Title,
		Body:     n.Body,
		Icon:     n.Icon,
		Cap:      cap,
		sig:      make(chan Signal, signalBuffer),
	}
}

// Signals yields the record's native lifecycle signals. The channel is closed
// after a terminal signal (close or cancel) has been delivered.
func (r *Record) Signals() <-chan Signal { return r.sig }

// Emit delivers a signal to the record's consumer. Non-terminal signals are
// dropped when the buffer is full; a terminal signal (close or cancel) also
// closes the channel, and anything emitted after it is ignored.
func (r *Record) Emit(s Signal) {
	if r == nil || r.sig == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	terminal := s.Kind == SignalClose || s.Kind == SignalCancel
	select {
	case r.sig <- s:
	default:
		if !terminal {
			return
		}
		// Make room for the terminal signal rather than losing it.
		select {
		case <-r.sig:
		default:
		}
		select {
		case r.sig <- s:
		default:
		}
	}
	if terminal {
		r.done = true
		close(r.sig)
	}
}
