// Package reassembly turns undersized network fragments back into complete
// message buffers.
//
// A frame is classified by its first two bytes. Single-frame payloads
// (zlib, gzip or plain) complete immediately. Chunked frames carry a 12-byte
// header
//
//	magic(2) = 0x1e 0x0f | message id(8) | sequence(1) | count(1)
//
// and are collected per message id until every sequence slot is filled or
// the validity window passes, whichever comes first.
package reassembly

import (
	"encoding/binary"
	"encoding/hex"
)

// FrameType is the classification of a raw frame
type FrameType int

const (
	TypeUnsupported FrameType = iota
	TypeChunked
	TypeZlib
	TypeGzip
	TypeUncompressed
)

func (t FrameType) String() string {
	switch t {
	case TypeChunked:
		return "chunked"
	case TypeZlib:
		return "zlib"
	case TypeGzip:
		return "gzip"
	case TypeUncompressed:
		return "uncompressed"
	default:
		return "unsupported"
	}
}

// HeaderSize is the length of a chunk header
const HeaderSize = 12

var chunkMagic = [2]byte{0x1e, 0x0f}

// Classify inspects the leading bytes of frame
func Classify(frame []byte) FrameType {
	if len(frame) < 2 {
		return TypeUnsupported
	}
	b0, b1 := frame[0], frame[1]
	switch {
	case b0 == chunkMagic[0] && b1 == chunkMagic[1]:
		return TypeChunked
	case b0 == 0x78 && (b1 == 0x01 || b1 == 0x5e || b1 == 0x9c || b1 == 0xda):
		return TypeZlib
	case b0 == 0x1f && b1 == 0x8b:
		return TypeGzip
	case b0 == 0x1f && b1 == 0x3c, b0 == '{':
		return TypeUncompressed
	}
	return TypeUnsupported
}

// MessageID correlates the chunks of one message
type MessageID [8]byte

func (id MessageID) String() string { return hex.EncodeToString(id[:]) }

// Uint64 returns the id as a big-endian integer
func (id MessageID) Uint64() uint64 { return binary.BigEndian.Uint64(id[:]) }

type chunkHeader struct {
	id    MessageID
	seq   int
	count int
}

// parseChunk splits a chunked frame. ok is false when the frame is too short
// to hold a header.
func parseChunk(frame []byte) (h chunkHeader, payload []byte, ok bool) {
	if len(frame) < HeaderSize {
		return h, nil, false
	}
	copy(h.id[:], frame[2:10])
	h.seq = int(frame[10])
	h.count = int(frame[11])
	return h, frame[HeaderSize:], true
}

// EncodeChunks splits payload into chunked frames of at most size payload
// bytes each. Used by senders and tests.
func EncodeChunks(id MessageID, payload []byte, size int) [][]byte {
	if size <= 0 {
		size = len(payload)
	}
	count := max((len(payload)+size-1)/size, 1)

	frames := make([][]byte, 0, count)
	for seq := 0; seq < count; seq++ {
		start := seq * size
		end := min(start+size, len(payload))
		frame := make([]byte, 0, HeaderSize+end-start)
		frame = append(frame, chunkMagic[0], chunkMagic[1])
		frame = append(frame, id[:]...)
		frame = append(frame, byte(seq), byte(count))
		frame = append(frame, payload[start:end]...)
		frames = append(frames, frame)
	}
	return frames
}
