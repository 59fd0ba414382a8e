// Package diag collects diagnostic messages produced by the store, the wire
// codec, and the unifier. It mirrors the shape of a compiler diagnostic log
// — a Kind, a short Text, and an optional Detail payload — generalized from
// "file:line" source coordinates to this domain's own coordinates (a byte
// offset in a wire stream, a pair of feature-structure node indices, a byte
// count after a GC).
package diag

import "fmt"

// Kind classifies a diagnostic message.
type Kind uint8

const (
	Error Kind = iota
	Warning
	Note
)

func (k Kind) String() string {
	switch k {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Note:
		return "note"
	default:
		panic("diag: invalid kind")
	}
}

// Msg is a single diagnostic message. Detail carries structured,
// caller-defined data (e.g. a GCReport or a PartialUnification) alongside
// the human-readable Text so embedders can react programmatically without
// parsing strings.
type Msg struct {
	Kind   Kind
	Text   string
	Detail interface{}
}

func (m Msg) String() string {
	return fmt.Sprintf("%s: %s", m.Kind, m.Text)
}

// Log collects messages as they are produced. It is not safe for concurrent
// use, matching the single-writer discipline of the store itself.
type Log struct {
	msgs []Msg
}

func (l *Log) Add(m Msg) {
	l.msgs = append(l.msgs, m)
}

func (l *Log) AddNote(text string, detail interface{}) {
	l.Add(Msg{Kind: Note, Text: text, Detail: detail})
}

func (l *Log) AddWarning(text string, detail interface{}) {
	l.Add(Msg{Kind: Warning, Text: text, Detail: detail})
}

func (l *Log) AddError(text string, detail interface{}) {
	l.Add(Msg{Kind: Error, Text: text, Detail: detail})
}

func (l *Log) HasErrors() bool {
	for _, m := range l.msgs {
		if m.Kind == Error {
			return true
		}
	}
	return false
}

func (l *Log) Msgs() []Msg {
	return l.msgs
}

func (l *Log) Reset() {
	l.msgs = l.msgs[:0]
}

// GCReport is the Detail payload attached to the Note emitted after every
// garbage collection.
type GCReport struct {
	HeapName      string
	BytesBefore   int
	BytesAfter    int
	ObjectsBefore int
	ObjectsAfter  int
}

func (r GCReport) String() string {
	return fmt.Sprintf("%s GC: %d bytes (%d objects) -> %d bytes (%d objects)",
		r.HeapName, r.BytesBefore, r.ObjectsBefore, r.BytesAfter, r.ObjectsAfter)
}

// PartialUnification is the Detail payload attached to the message emitted
// when the unifier's UNIFYING mark fires a cycle short-circuit: precision is
// deliberately given up for termination, and the event is surfaced here so
// callers can see when it happened.
type PartialUnification struct {
	Node1, Node2 int
}

func (p PartialUnification) String() string {
	return fmt.Sprintf("partial unification of nodes %d and %d: cycle broken, result is not a full fixed point", p.Node1, p.Node2)
}

// DecodeError is the Detail payload attached to decode-error messages from
// the wire codec, carrying the stream coordinates instead of a file:line.
type DecodeError struct {
	ByteOffset int
	RefIndex   int
	Reason     string
}

func (d DecodeError) String() string {
	return fmt.Sprintf("decode error at byte %d (reference #%d): %s", d.ByteOffset, d.RefIndex, d.Reason)
}
