// Package encoding holds the compact wire forms used inside snapshots.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeHeights encodes a terrain height grid into base64(varint pairs).
// The pairs are (height, run_len) repeated, in row-major cell order.
func EncodeHeights(heights []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(heights) {
		h := heights[i]
		run := 1
		for j := i + 1; j < len(heights) && heights[j] == h; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(h))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeHeights reverses EncodeHeights. want is the expected cell count; a
// mismatch is corruption and returns an error rather than a short grid.
func DecodeHeights(b64 string, want int) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, 0, want)
	for i := 0; i < len(raw); {
		h, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if h > 0xFF {
			return nil, fmt.Errorf("height too large: %d", h)
		}
		if uint64(len(out))+run > uint64(want) {
			return nil, fmt.Errorf("run overflows grid: %d cells, want %d", uint64(len(out))+run, want)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint8(h))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("short grid: %d cells, want %d", len(out), want)
	}
	return out, nil
}
