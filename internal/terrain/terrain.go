// Package terrain holds the narrow world-access surface the cabin pipeline
// consumes: heightmap grids, point block reads and block writes.
package terrain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnreachable means the provider could not be contacted at all.
	ErrUnreachable = errors.New("terrain provider unreachable")
	// ErrNoBuildArea means no build area has been designated in the world.
	ErrNoBuildArea = errors.New("no build area designated")
	// ErrProvider means the provider answered but rejected the request.
	ErrProvider = errors.New("terrain provider error")
)

type Vec3 struct {
	X, Y, Z int
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Rect is an axis-aligned x/z rectangle: origin plus size (W along x, D along z).
type Rect struct {
	X, Z int
	W, D int
}

func (r Rect) EndX() int { return r.X + r.W }
func (r Rect) EndZ() int { return r.Z + r.D }

func (r Rect) Contains(x, z int) bool {
	return x >= r.X && x < r.EndX() && z >= r.Z && z < r.EndZ()
}

func (r Rect) Empty() bool { return r.W <= 0 || r.D <= 0 }

// Box is a 3D box: origin plus size. End is exclusive, Last inclusive.
type Box struct {
	Origin Vec3
	Size   Vec3
}

func BoxBetween(a, b Vec3) Box {
	lo := Vec3{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := Vec3{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	return Box{Origin: lo, Size: Vec3{X: hi.X - lo.X + 1, Y: hi.Y - lo.Y + 1, Z: hi.Z - lo.Z + 1}}
}

func (b Box) End() Vec3 { return b.Origin.Add(b.Size) }

func (b Box) Last() Vec3 { return b.End().Add(Vec3{X: -1, Y: -1, Z: -1}) }

func (b Box) Rect() Rect {
	return Rect{X: b.Origin.X, Z: b.Origin.Z, W: b.Size.X, D: b.Size.Z}
}

func (b Box) Empty() bool { return b.Size.X <= 0 || b.Size.Y <= 0 || b.Size.Z <= 0 }

func (b Box) Contains(p Vec3) bool {
	e := b.End()
	return p.X >= b.Origin.X && p.X < e.X &&
		p.Y >= b.Origin.Y && p.Y < e.Y &&
		p.Z >= b.Origin.Z && p.Z < e.Z
}

// Block is a namespaced block id plus optional block-state attributes.
type Block struct {
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
}

// NewBlock builds a block from an id and alternating state key/value pairs.
// Ids without a namespace get "minecraft:".
func NewBlock(id string, kv ...string) Block {
	b := Block{ID: NormalizeID(id)}
	if len(kv) >= 2 {
		b.State = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			b.State[kv[i]] = kv[i+1]
		}
	}
	return b
}

func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	if !strings.Contains(id, ":") {
		return "minecraft:" + id
	}
	return id
}

func (b Block) Is(id string) bool { return b.ID == NormalizeID(id) }

func (b Block) Equal(o Block) bool {
	if b.ID != o.ID || len(b.State) != len(o.State) {
		return false
	}
	for k, v := range b.State {
		if ov, ok := o.State[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders the block in command syntax, e.g. minecraft:oak_door[facing=south,half=lower].
func (b Block) String() string {
	if len(b.State) == 0 {
		return b.ID
	}
	keys := make([]string, 0, len(b.State))
	for k := range b.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+b.State[k])
	}
	return b.ID + "[" + strings.Join(parts, ",") + "]"
}

var Air = Block{ID: "minecraft:air"}

// IsStillWater reports a water source block (level 0).
func IsStillWater(b Block) bool {
	return b.ID == "minecraft:water" && b.State["level"] == "0"
}

// HeightmapKind names a Minecraft heightmap convention.
type HeightmapKind string

const (
	// MotionBlocking counts leaves as solid (canopy-inclusive).
	MotionBlocking HeightmapKind = "MOTION_BLOCKING"
	// MotionBlockingNoLeaves ignores leaves (ground height).
	MotionBlockingNoLeaves HeightmapKind = "MOTION_BLOCKING_NO_LEAVES"
)

// HeightGrid is an immutable snapshot of per-column heightmap values over a
// rect. Values are the y of the highest blocking block plus one.
type HeightGrid struct {
	Rect Rect
	Kind HeightmapKind

	cells []int // x-major: cells[lx*D+lz]
}

// NewHeightGrid copies cols, indexed [lx][lz], into a grid over rect.
func NewHeightGrid(rect Rect, kind HeightmapKind, cols [][]int) (*HeightGrid, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("heightmap %s: empty rect", kind)
	}
	if len(cols) != rect.W {
		return nil, fmt.Errorf("heightmap %s: got %d columns want %d", kind, len(cols), rect.W)
	}
	g := &HeightGrid{Rect: rect, Kind: kind, cells: make([]int, rect.W*rect.D)}
	for lx, col := range cols {
		if len(col) != rect.D {
			return nil, fmt.Errorf("heightmap %s: column %d has %d rows want %d", kind, lx, len(col), rect.D)
		}
		copy(g.cells[lx*rect.D:], col)
	}
	return g, nil
}

// At returns the value at local offset (lx, lz).
func (g *HeightGrid) At(lx, lz int) (int, bool) {
	if lx < 0 || lz < 0 || lx >= g.Rect.W || lz >= g.Rect.D {
		return 0, false
	}
	return g.cells[lx*g.Rect.D+lz], true
}

// AtWorld returns the value at world column (x, z).
func (g *HeightGrid) AtWorld(x, z int) (int, bool) {
	return g.At(x-g.Rect.X, z-g.Rect.Z)
}

type BlockReader interface {
	Block(ctx context.Context, pos Vec3) (Block, error)
}

// BlockWriter writes may be buffered; callers must Flush through the Provider.
type BlockWriter interface {
	SetBlock(ctx context.Context, pos Vec3, b Block) error
}

type HeightReader interface {
	HeightGrid(ctx context.Context, rect Rect, kind HeightmapKind) (*HeightGrid, error)
}

// Provider is the full world-access surface.
type Provider interface {
	Ping(ctx context.Context) error
	BuildArea(ctx context.Context) (Box, error)
	HeightReader
	BlockReader
	BlockWriter
	Flush(ctx context.Context) error
}
