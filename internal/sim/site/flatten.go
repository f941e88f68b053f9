package site

import (
	"context"
	"fmt"
	"math/rand"

	"cabincraft.ai/internal/sim/mathx"
	"cabincraft.ai/internal/terrain"
)

// FlattenOptions controls how far up columns are cleared and what fills and
// floors the footprint.
type FlattenOptions struct {
	// Ceiling is the exclusive upper y of clearing.
	Ceiling    int
	Filler     terrain.Block
	FloorWoods []string
}

func DefaultFlattenOptions() FlattenOptions {
	return FlattenOptions{
		Ceiling:    320,
		Filler:     terrain.NewBlock("dirt"),
		FloorWoods: []string{"spruce_planks", "oak_planks", "birch_planks", "dark_oak_planks"},
	}
}

// Flattened is the levelled footprint. Floor writes are not counted as edits.
type Flattened struct {
	Rect   terrain.Rect
	Target int
	Floor  terrain.Block

	ClearedColumns int
	ClearedBlocks  int
	FilledColumns  int
	FilledBlocks   int
}

func (f Flattened) Edits() int { return f.ClearedBlocks + f.FilledBlocks }

// Flatten levels sel to the truncated mean ground y. Columns whose canopy
// pokes above the target are cleared up to the ceiling, columns below it are
// filled, and the whole footprint gets one floor layer at the target.
func Flatten(ctx context.Context, w terrain.BlockWriter, rng *rand.Rand, sel Selection, ground, canopy *terrain.HeightGrid, opts FlattenOptions) (Flattened, error) {
	if len(opts.FloorWoods) == 0 {
		return Flattened{}, fmt.Errorf("flatten: empty floor catalog")
	}
	rect := sel.Rect
	ys := make([]int, 0, rect.W*rect.D)
	for x := rect.X; x < rect.EndX(); x++ {
		for z := rect.Z; z < rect.EndZ(); z++ {
			if h, ok := ground.AtWorld(x, z); ok {
				ys = append(ys, h-1)
			}
		}
	}
	if len(ys) == 0 {
		return Flattened{}, fmt.Errorf("flatten: footprint %+v outside heightmap", rect)
	}

	out := Flattened{Rect: rect, Target: mathx.TruncMean(ys)}
	target := out.Target
	for x := rect.X; x < rect.EndX(); x++ {
		for z := rect.Z; z < rect.EndZ(); z++ {
			g, okG := ground.AtWorld(x, z)
			c, okC := canopy.AtWorld(x, z)
			if okC && c-1 > target {
				for y := target + 1; y < opts.Ceiling; y++ {
					if err := w.SetBlock(ctx, terrain.Vec3{X: x, Y: y, Z: z}, terrain.Air); err != nil {
						return out, fmt.Errorf("clear %d,%d,%d: %w", x, y, z, err)
					}
					out.ClearedBlocks++
				}
				out.ClearedColumns++
			}
			if okG && g-1 < target {
				for y := g; y <= target; y++ {
					if err := w.SetBlock(ctx, terrain.Vec3{X: x, Y: y, Z: z}, opts.Filler); err != nil {
						return out, fmt.Errorf("fill %d,%d,%d: %w", x, y, z, err)
					}
					out.FilledBlocks++
				}
				out.FilledColumns++
			}
		}
	}

	out.Floor = terrain.NewBlock(opts.FloorWoods[rng.Intn(len(opts.FloorWoods))])
	for x := rect.X; x < rect.EndX(); x++ {
		for z := rect.Z; z < rect.EndZ(); z++ {
			if err := w.SetBlock(ctx, terrain.Vec3{X: x, Y: target, Z: z}, out.Floor); err != nil {
				return out, fmt.Errorf("floor %d,%d: %w", x, z, err)
			}
		}
	}
	return out, nil
}
