// Package ping implements the ping packet format and tracks active pings.
package ping

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

// maxStringBytes is the byte limit for strings on the wire (32767 chars of up to 4 bytes).
const maxStringBytes = 32767 * 4

// Decoding errors
var (
	ErrTruncated       = errors.New("packet truncated")
	ErrStringTooLong   = errors.New("string too long")
	ErrVarIntTooLong   = errors.New("varint too long")
	ErrTrailingBytes   = errors.New("trailing bytes after packet")
	ErrInvalidBoolean  = errors.New("invalid boolean")
	ErrInvalidPosition = errors.New("position not finite")
)

// Packet is a ping as sent between nodes.
//
// Wire layout: channel, x, y, z, username, hasEntity, [entity].
type Packet struct {
	Channel  string
	Pos      Vec3
	Username string
	// Entity is set when the ping targets an entity.
	Entity *uuid.UUID
}

// MarshalBinary encodes the packet in wire format.
func (p Packet) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, p.Channel); err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	for _, f := range []float64{p.Pos.X, p.Pos.Y, p.Pos.Z} {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
	}
	if err := writeString(&buf, p.Username); err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	if p.Entity == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		buf.Write(p.Entity[:])
	}
	return buf.Bytes(), nil
}

// Decode parses a packet. The whole input must be consumed.
func Decode(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	var p Packet
	var err error
	p.Channel, err = readString(r)
	if err != nil {
		return Packet{}, fmt.Errorf("channel: %w", err)
	}
	var xyz [3]float64
	for i := range xyz {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Packet{}, fmt.Errorf("position: %w", ErrTruncated)
		}
		xyz[i] = math.Float64frombits(binary.BigEndian.Uint64(b[:]))
	}
	p.Pos = Vec3{xyz[0], xyz[1], xyz[2]}
	if !p.Pos.IsFinite() {
		return Packet{}, fmt.Errorf("position %v: %w", p.Pos, ErrInvalidPosition)
	}
	p.Username, err = readString(r)
	if err != nil {
		return Packet{}, fmt.Errorf("username: %w", err)
	}
	hasEntity, err := r.ReadByte()
	if err != nil {
		return Packet{}, fmt.Errorf("entity flag: %w", ErrTruncated)
	}
	switch hasEntity {
	case 0:
	case 1:
		var id uuid.UUID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return Packet{}, fmt.Errorf("entity: %w", ErrTruncated)
		}
		p.Entity = &id
	default:
		return Packet{}, fmt.Errorf("entity flag %d: %w", hasEntity, ErrInvalidBoolean)
	}
	if r.Len() > 0 {
		return Packet{}, fmt.Errorf("%d bytes: %w", r.Len(), ErrTrailingBytes)
	}
	return p, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringBytes {
		return ErrStringTooLong
	}
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	if n > maxStringBytes {
		return "", ErrStringTooLong
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

// readVarInt reads an unsigned varint of at most 5 bytes.
func readVarInt(r *bytes.Reader) (uint64, error) {
	var v uint64
	for i := range 5 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, ErrTruncated
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarIntTooLong
}
