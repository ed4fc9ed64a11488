package ktp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadMagic is returned when a frame's magic number does not match.
var ErrBadMagic = errors.New("ktp: bad magic")

// ErrUnsupportedVersion is returned when a frame's major version is one
// this package does not speak.
var ErrUnsupportedVersion = errors.New("ktp: unsupported version")

// ErrShortRead is returned when a frame is truncated mid-parameter.
var ErrShortRead = errors.New("ktp: short read")

// MaxFrameLen bounds a single message's declared length to guard against a
// corrupt or hostile peer claiming an enormous frame (§7: broken wire
// frame -> log and drop the connection, which requires detecting it
// before attempting to allocate for it).
const MaxFrameLen = 16 * 1024 * 1024

// Encode writes m to w as a complete KTP frame: fixed 20-byte header
// followed by its TLV parameter region, matching §4.8's
// "magic/major/minor/cmd/status/len/plen" header exactly, big-endian.
func Encode(w io.Writer, m *Message) error {
	var body bytes.Buffer
	for _, p := range m.Params {
		if err := writeParam(&body, p); err != nil {
			return fmt.Errorf("ktp: encode param %s: %w", p.Type, err)
		}
	}

	total := uint32(HeaderLen + body.Len())
	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.BigEndian, Magic); err != nil {
		return err
	}
	hdr.WriteByte(m.Major)
	hdr.WriteByte(m.Minor)
	if err := binary.Write(&hdr, binary.BigEndian, uint16(m.Cmd)); err != nil {
		return err
	}
	if err := binary.Write(&hdr, binary.BigEndian, uint32(m.Status)); err != nil {
		return err
	}
	if err := binary.Write(&hdr, binary.BigEndian, total); err != nil {
		return err
	}
	if err := binary.Write(&hdr, binary.BigEndian, uint32(len(m.Params))); err != nil {
		return err
	}

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("ktp: write header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("ktp: write body: %w", err)
	}
	return nil
}

func writeParam(buf *bytes.Buffer, p Param) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(p.Type)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(p.Value))); err != nil {
		return err
	}
	_, err := buf.Write(p.Value)
	return err
}

// Decode reads one complete KTP frame from r. It reads the fixed header
// first, validates magic and version, then reads exactly len-HeaderLen
// more bytes before decoding parameters — the same "validate preamble,
// then read the declared remainder" shape the teacher's plan reader uses.
func Decode(r io.Reader) (*Message, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("ktp: read header: %w", err)
	}

	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("%w: got %#x", ErrBadMagic, magic)
	}
	major := hdr[4]
	minor := hdr[5]
	if major != VersionMajor {
		return nil, fmt.Errorf("%w: got %d.%d", ErrUnsupportedVersion, major, minor)
	}
	cmd := Cmd(binary.BigEndian.Uint16(hdr[6:8]))
	status := Status(binary.BigEndian.Uint32(hdr[8:12]))
	total := binary.BigEndian.Uint32(hdr[12:16])
	plen := binary.BigEndian.Uint32(hdr[16:20])

	if total < HeaderLen || total > MaxFrameLen {
		return nil, fmt.Errorf("ktp: invalid frame length %d", total)
	}

	body := make([]byte, total-HeaderLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	params, err := decodeParams(body, plen)
	if err != nil {
		return nil, err
	}

	return &Message{Major: major, Minor: minor, Cmd: cmd, Status: status, Params: params}, nil
}

func decodeParams(body []byte, count uint32) ([]Param, error) {
	var params []Param
	if count > 0 {
		params = make([]Param, 0, count)
	}
	off := 0
	for i := uint32(0); i < count; i++ {
		if off+6 > len(body) {
			return nil, fmt.Errorf("%w: truncated parameter header", ErrShortRead)
		}
		ptype := ParamType(binary.BigEndian.Uint16(body[off : off+2]))
		plen := binary.BigEndian.Uint32(body[off+2 : off+6])
		off += 6
		if off+int(plen) > len(body) {
			return nil, fmt.Errorf("%w: truncated parameter value", ErrShortRead)
		}
		value := make([]byte, plen)
		copy(value, body[off:off+int(plen)])
		off += int(plen)
		params = append(params, Param{Type: ptype, Value: value})
	}
	if off != len(body) {
		return nil, fmt.Errorf("ktp: %d trailing bytes after %d parameters", len(body)-off, count)
	}
	return params, nil
}
