// Package memory is an in-process terrain provider: a sparse block store over
// a build area with heightmaps derived from its contents.
package memory

import (
	"context"
	"fmt"
	"strings"

	"cabincraft.ai/internal/terrain"
)

type column struct{ X, Z int }

// World is a sparse world. Columns may carry a solid fill level: every y at
// or below it reads as Filler unless overridden by an explicit block.
type World struct {
	area   terrain.Box
	Filler terrain.Block

	solid  map[column]int
	blocks map[terrain.Vec3]terrain.Block
	topSet map[column]int // highest explicitly written y per column

	writes  int
	changes int
	flushes int
}

// New creates an empty world. A zero-sized area means no build area is
// designated.
func New(area terrain.Box) *World {
	return &World{
		area:   area,
		Filler: terrain.NewBlock("stone"),
		solid:  map[column]int{},
		blocks: map[terrain.Vec3]terrain.Block{},
		topSet: map[column]int{},
	}
}

func (w *World) Area() terrain.Box { return w.area }

// FillColumn makes every y up to and including top solid filler.
func (w *World) FillColumn(x, z, top int) {
	w.solid[column{x, z}] = top
}

// Put sets a block without counting it as a write.
func (w *World) Put(pos terrain.Vec3, b terrain.Block) {
	w.blocks[pos] = b
	c := column{pos.X, pos.Z}
	if t, ok := w.topSet[c]; !ok || pos.Y > t {
		w.topSet[c] = pos.Y
	}
}

func (w *World) Get(pos terrain.Vec3) terrain.Block {
	if b, ok := w.blocks[pos]; ok {
		return b
	}
	if top, ok := w.solid[column{pos.X, pos.Z}]; ok && pos.Y <= top {
		return w.Filler
	}
	return terrain.Air
}

// Writes is the number of SetBlock calls; Changes counts only those that
// altered the stored block.
func (w *World) Writes() int  { return w.writes }
func (w *World) Changes() int { return w.changes }
func (w *World) Flushes() int { return w.flushes }

func (w *World) Ping(ctx context.Context) error { return ctx.Err() }

func (w *World) BuildArea(ctx context.Context) (terrain.Box, error) {
	if err := ctx.Err(); err != nil {
		return terrain.Box{}, err
	}
	if w.area.Empty() {
		return terrain.Box{}, terrain.ErrNoBuildArea
	}
	return w.area, nil
}

func (w *World) Block(ctx context.Context, pos terrain.Vec3) (terrain.Block, error) {
	if err := ctx.Err(); err != nil {
		return terrain.Block{}, err
	}
	return w.Get(pos), nil
}

func (w *World) SetBlock(ctx context.Context, pos terrain.Vec3, b terrain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.writes++
	if !w.Get(pos).Equal(b) {
		w.changes++
	}
	w.Put(pos, b)
	return nil
}

func (w *World) Flush(ctx context.Context) error {
	w.flushes++
	return ctx.Err()
}

func (w *World) HeightGrid(ctx context.Context, rect terrain.Rect, kind terrain.HeightmapKind) (*terrain.HeightGrid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind != terrain.MotionBlocking && kind != terrain.MotionBlockingNoLeaves {
		return nil, fmt.Errorf("memory: unsupported heightmap %q", kind)
	}
	cols := make([][]int, rect.W)
	for lx := 0; lx < rect.W; lx++ {
		cols[lx] = make([]int, rect.D)
		for lz := 0; lz < rect.D; lz++ {
			cols[lx][lz] = w.columnHeight(rect.X+lx, rect.Z+lz, kind)
		}
	}
	return terrain.NewHeightGrid(rect, kind, cols)
}

func (w *World) columnHeight(x, z int, kind terrain.HeightmapKind) int {
	c := column{x, z}
	bottom := w.area.Origin.Y
	start := bottom - 1
	if t, ok := w.solid[c]; ok {
		start = t
	}
	if t, ok := w.topSet[c]; ok && t > start {
		start = t
	}
	for y := start; y >= bottom; y-- {
		if blocksMotion(w.Get(terrain.Vec3{X: x, Y: y, Z: z}), kind) {
			return y + 1
		}
	}
	return bottom
}

var passable = map[string]bool{
	"minecraft:air":         true,
	"minecraft:cave_air":    true,
	"minecraft:void_air":    true,
	"minecraft:short_grass": true,
	"minecraft:grass":       true,
	"minecraft:tall_grass":  true,
	"minecraft:fern":        true,
	"minecraft:dandelion":   true,
	"minecraft:poppy":       true,
	"minecraft:torch":       true,
}

func blocksMotion(b terrain.Block, kind terrain.HeightmapKind) bool {
	if b.ID == "" || passable[b.ID] {
		return false
	}
	if kind == terrain.MotionBlockingNoLeaves && strings.HasSuffix(b.ID, "_leaves") {
		return false
	}
	return true
}
