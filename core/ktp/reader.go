package ktp

import (
	"encoding/binary"
	"fmt"

	"github.com/klish-project/klish/core/invariant"
)

// AsyncReader accumulates bytes fed in from a non-blocking socket read and
// yields complete messages as soon as enough bytes have arrived, without
// blocking the caller's event loop (§4.8 "async reader, stall/flush";
// grounded on the same buffer-then-decode shape as the teacher's
// core/planfmt.Reader, adapted to incremental feeding instead of a single
// blocking io.Reader).
type AsyncReader struct {
	buf []byte
}

// NewAsyncReader returns an empty incremental reader.
func NewAsyncReader() *AsyncReader {
	return &AsyncReader{}
}

// Feed appends newly read bytes to the internal buffer.
func (a *AsyncReader) Feed(p []byte) {
	a.buf = append(a.buf, p...)
}

// Pending returns the number of unconsumed bytes currently buffered
// (useful for flush/stall diagnostics).
func (a *AsyncReader) Pending() int { return len(a.buf) }

// Next extracts and returns the next complete message buffered, if one is
// available. It returns (nil, false, nil) when fewer bytes than a full
// frame have been fed so far — the caller should keep reading and call
// Feed again. It returns an error only for a frame that is structurally
// invalid: bad magic, bad version or an oversized declared length once
// the header is buffered, or a truncated parameter or trailing bytes in
// the parameter region once the whole frame is buffered; that error is
// always accompanied by a drop
// instruction per §7 (log and drop the connection).
func (a *AsyncReader) Next() (*Message, bool, error) {
	if len(a.buf) < HeaderLen {
		return nil, false, nil
	}

	magic := binary.BigEndian.Uint32(a.buf[0:4])
	if magic != Magic {
		return nil, false, fmt.Errorf("%w: got %#x", ErrBadMagic, magic)
	}
	major := a.buf[4]
	if major != VersionMajor {
		return nil, false, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, major)
	}
	total := binary.BigEndian.Uint32(a.buf[12:16])
	if total < HeaderLen || total > MaxFrameLen {
		return nil, false, fmt.Errorf("ktp: invalid frame length %d", total)
	}

	if uint32(len(a.buf)) < total {
		// Stalled: header known, body not fully arrived yet.
		return nil, false, nil
	}

	minor := a.buf[5]
	cmd := Cmd(binary.BigEndian.Uint16(a.buf[6:8]))
	status := Status(binary.BigEndian.Uint32(a.buf[8:12]))
	plen := binary.BigEndian.Uint32(a.buf[16:20])

	params, err := decodeParams(a.buf[HeaderLen:total], plen)
	if err != nil {
		return nil, false, err
	}

	invariant.Invariant(total >= HeaderLen, "frame length must cover at least the header")
	a.buf = a.buf[total:]

	return &Message{Major: major, Minor: minor, Cmd: cmd, Status: status, Params: params}, true, nil
}

// Flush discards any buffered bytes, used when a connection is dropped
// after a decode error so the reader can be reused for the next client.
func (a *AsyncReader) Flush() {
	a.buf = a.buf[:0]
}
