// Package framing implements the length-prefixed multi-packet wire format
// shared by both directions between a codec pipeline and the server
// (spec.md §4.2, §6.2): [count:u8] ([len_hi:u8][len_lo:u8][payload]){count}.
package framing

import (
	"github.com/tphakala/bucketbrigade/internal/errors"
)

// ComponentFraming is the errors.Component tag for this package.
const ComponentFraming = "framing"

// maxPacketLen is the largest payload length representable in the 16-bit
// length prefix. Opus frames at 60ms/48kHz are well under this; it is
// intentionally unchecked on the pack side per spec.md §4.2.
const maxPacketLen = 1<<16 - 1

// PackMulti writes count-prefixed, length-prefixed packets into one blob:
// [count:u8]([len_hi:u8][len_lo:u8][payload]){count}.
func PackMulti(packets [][]byte) []byte {
	total := 1
	for _, p := range packets {
		total += 2 + len(p)
	}
	out := make([]byte, 0, total)
	out = append(out, byte(len(packets)))
	for _, p := range packets {
		n := len(p)
		out = append(out, byte(n>>8), byte(n&0xff))
		out = append(out, p...)
	}
	return out
}

// UnpackMulti reverses PackMulti, failing with MalformedFrame if a length
// prefix runs past the end of blob.
func UnpackMulti(blob []byte) ([][]byte, error) {
	if len(blob) < 1 {
		return nil, errors.New(nil).
			Component(ComponentFraming).
			Category(errors.CategoryFraming).
			Context("error", "empty frame").
			Build()
	}

	count := int(blob[0])
	packets := make([][]byte, 0, count)
	offset := 1

	for i := 0; i < count; i++ {
		if offset+2 > len(blob) {
			return nil, errors.New(nil).
				Component(ComponentFraming).
				Category(errors.CategoryFraming).
				Context("error", "truncated length prefix").
				Context("packet_index", i).
				Build()
		}
		length := int(blob[offset])<<8 | int(blob[offset+1])
		offset += 2

		if offset+length > len(blob) {
			return nil, errors.New(nil).
				Component(ComponentFraming).
				Category(errors.CategoryFraming).
				Context("error", "packet length runs past end of frame").
				Context("packet_index", i).
				Context("length", length).
				Context("remaining", len(blob)-offset).
				Build()
		}
		packets = append(packets, blob[offset:offset+length])
		offset += length
	}

	return packets, nil
}
