package world

import (
	"fmt"

	"gridwarden.ai/internal/sim/encoding"
)

// Terrain is the height grid for the square playable area |x|,|y| <= R.
// Heights are region plateaus from a seed-keyed hash: flat within an 8x8
// region, stepped at region borders, levelled inside the spawn ring.
type Terrain struct {
	R       int
	heights []uint8
}

const (
	terrainRegion    = 8
	spawnClearRadius = 4
	spawnHeight      = 3
	maxHeight        = 8
)

// GenerateTerrain builds the grid for boundary radius r from a derived seed.
func GenerateTerrain(seed uint64, r int) *Terrain {
	side := 2*r + 1
	t := &Terrain{R: r, heights: make([]uint8, side*side)}
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			t.heights[t.idx(x, y)] = genHeight(seed, x, y)
		}
	}
	return t
}

func genHeight(seed uint64, x, y int) uint8 {
	if withinSpawnClear(x, y, spawnClearRadius) {
		return spawnHeight
	}
	rx := floorDiv(x, terrainRegion)
	ry := floorDiv(y, terrainRegion)
	return uint8(hash2(seed, rx, ry) % maxHeight)
}

func (t *Terrain) idx(x, y int) int {
	side := 2*t.R + 1
	return (y+t.R)*side + (x + t.R)
}

// InBounds reports whether the cell lies inside the world boundary.
func (t *Terrain) InBounds(x, y int) bool {
	return x >= -t.R && x <= t.R && y >= -t.R && y <= t.R
}

// Height returns the terrain height at a cell. Out-of-bounds cells read as 0.
func (t *Terrain) Height(x, y int) int {
	if !t.InBounds(x, y) {
		return 0
	}
	return int(t.heights[t.idx(x, y)])
}

// SetHeight clamps h into [0, 255] and writes it. Out-of-bounds writes are
// ignored; PhysicsValidate rejects those before Commit.
func (t *Terrain) SetHeight(x, y, h int) {
	if !t.InBounds(x, y) {
		return
	}
	if h < 0 {
		h = 0
	}
	if h > 255 {
		h = 255
	}
	t.heights[t.idx(x, y)] = uint8(h)
}

// EncodeHeights returns the RLE form used inside snapshots.
func (t *Terrain) EncodeHeights() string {
	return encoding.EncodeHeights(t.heights)
}

// DecodeTerrain rebuilds a grid from its snapshot form.
func DecodeTerrain(r int, rle string) (*Terrain, error) {
	if r <= 0 {
		return nil, fmt.Errorf("terrain: bad boundary radius %d", r)
	}
	side := 2*r + 1
	heights, err := encoding.DecodeHeights(rle, side*side)
	if err != nil {
		return nil, fmt.Errorf("terrain: %w", err)
	}
	return &Terrain{R: r, heights: heights}, nil
}

func withinSpawnClear(x, y, radius int) bool {
	if radius <= 0 {
		return false
	}
	r := int64(radius)
	dx := int64(x)
	dy := int64(y)
	return dx*dx+dy*dy <= r*r
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed uint64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := seed ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
