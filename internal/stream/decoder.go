package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// readBufferSize is the chunk size used when draining a response body.
const readBufferSize = 32 * 1024

// DefaultMaxRecordSize caps a single record when Decoder.MaxRecordSize is
// zero. A write_file call carries the whole file in its arguments, so the
// cap is generous.
const DefaultMaxRecordSize = 8 << 20

// Decoder splits a single generation request's stream into records. Bytes
// are scanned once as they arrive, so a record split over many chunks costs
// time linear in its size. It is not safe for concurrent use.
type Decoder struct {
	// MaxRecordSize bounds the bytes buffered for one record. A longer
	// record is skipped up to its newline and counted as dropped.
	MaxRecordSize int

	// buf holds the unterminated tail of the stream and never contains a
	// newline.
	buf        []byte
	discarding bool
	dropped    int
}

// Feed decodes one chunk and returns the completed events.
func (d *Decoder) Feed(chunk []byte) []Event {
	var events []Event
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if d.discarding {
			if i < 0 {
				return events
			}
			d.discarding = false
			chunk = chunk[i+1:]
			continue
		}
		if i < 0 {
			if len(d.buf)+len(chunk) > d.limit() {
				d.overflow()
				return events
			}
			d.buf = append(d.buf, chunk...)
			return events
		}

		line := chunk[:i]
		chunk = chunk[i+1:]
		if len(d.buf)+len(line) > d.limit() {
			d.buf = d.buf[:0]
			d.dropped++
			continue
		}
		if len(d.buf) > 0 {
			d.buf = append(d.buf, line...)
			line = d.buf
		}
		if ev, ok := ParseRecord(line); ok {
			events = append(events, ev)
		} else if !isBlank(line) {
			d.dropped++
		}
		d.buf = d.buf[:0]
	}
	return events
}

// Flush decodes any trailing record left without a newline once the
// stream has ended.
func (d *Decoder) Flush() []Event {
	if d.discarding {
		d.discarding = false
		return nil
	}
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := ParseRecord(line); ok {
		return []Event{ev}
	}
	if !isBlank(line) {
		d.dropped++
	}
	return nil
}

// Dropped returns the number of malformed, unknown or oversized records
// skipped so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// overflow abandons the buffered record and skips input up to the next
// newline.
func (d *Decoder) overflow() {
	d.buf = nil
	d.discarding = true
	d.dropped++
}

func (d *Decoder) limit() int {
	if d.MaxRecordSize > 0 {
		return d.MaxRecordSize
	}
	return DefaultMaxRecordSize
}

// pending returns the number of buffered bytes awaiting a newline.
func (d *Decoder) pending() int {
	return len(d.buf)
}

// Drain reads r until EOF, calling fn for every decoded event in arrival
// order. If fn returns false, Drain stops and returns nil. A read error is
// returned as is, except that a cancelled ctx takes precedence so callers
// can tell an abort from a transport failure.
func Drain(ctx context.Context, r io.Reader, d *Decoder, fn func(Event) bool) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if !fn(ev) {
					return nil
				}
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				for _, ev := range d.Flush() {
					if !fn(ev) {
						return nil
					}
				}
				return nil
			}
			return err
		}
	}
}
