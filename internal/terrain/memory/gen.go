package memory

import (
	"github.com/aquilax/go-perlin"
	opensimplex "github.com/ojrac/opensimplex-go"

	"cabincraft.ai/internal/sim/mathx"
	"cabincraft.ai/internal/terrain"
)

// GenOptions drives the synthetic terrain used for dry runs.
type GenOptions struct {
	Seed         int64
	BaseHeight   int
	Amplitude    float64
	Scale        float64
	SeaLevel     int
	TreePermille int
}

func DefaultGenOptions(seed int64) GenOptions {
	return GenOptions{
		Seed:         seed,
		BaseHeight:   66,
		Amplitude:    6,
		Scale:        0.035,
		SeaLevel:     62,
		TreePermille: 18,
	}
}

// Generate fills area with rolling perlin terrain, sea-level water sources
// and scattered trees with leaf canopies.
func Generate(area terrain.Box, opts GenOptions) *World {
	w := New(area)
	heights := perlin.NewPerlin(2, 2, 3, opts.Seed)
	forest := opensimplex.NewNormalized(opts.Seed + 1)

	grass := terrain.NewBlock("grass_block", "snowy", "false")
	dirt := terrain.NewBlock("dirt")
	sand := terrain.NewBlock("sand")
	water := terrain.NewBlock("water", "level", "0")

	rect := area.Rect()
	tops := make(map[column]int, rect.W*rect.D)
	for x := rect.X; x < rect.EndX(); x++ {
		for z := rect.Z; z < rect.EndZ(); z++ {
			n := heights.Noise2D(float64(x)*opts.Scale, float64(z)*opts.Scale)
			top := opts.BaseHeight + int(opts.Amplitude*n)
			tops[column{x, z}] = top

			w.FillColumn(x, z, top-3)
			if top < opts.SeaLevel {
				for y := top - 2; y <= top; y++ {
					w.Put(terrain.Vec3{X: x, Y: y, Z: z}, sand)
				}
				for y := top + 1; y <= opts.SeaLevel; y++ {
					w.Put(terrain.Vec3{X: x, Y: y, Z: z}, water)
				}
				continue
			}
			w.Put(terrain.Vec3{X: x, Y: top - 2, Z: z}, dirt)
			w.Put(terrain.Vec3{X: x, Y: top - 1, Z: z}, dirt)
			w.Put(terrain.Vec3{X: x, Y: top, Z: z}, grass)
		}
	}

	if opts.TreePermille <= 0 {
		return w
	}
	for x := rect.X; x < rect.EndX(); x++ {
		for z := rect.Z; z < rect.EndZ(); z++ {
			top := tops[column{x, z}]
			if top < opts.SeaLevel {
				continue
			}
			if forest.Eval2(float64(x)*0.02, float64(z)*0.02) < 0.45 {
				continue
			}
			if mathx.Hash2(opts.Seed+7, x, z)%1000 >= uint64(opts.TreePermille) {
				continue
			}
			plantTree(w, x, top+1, z, 4+int(mathx.Hash2(opts.Seed+8, x, z)%2))
		}
	}
	return w
}

func plantTree(w *World, x, base, z, trunk int) {
	wood := terrain.NewBlock("oak_log", "axis", "y")
	leaves := terrain.NewBlock("oak_leaves", "persistent", "true")
	for y := base; y < base+trunk; y++ {
		w.Put(terrain.Vec3{X: x, Y: y, Z: z}, wood)
	}
	crown := base + trunk - 2
	for y := crown; y <= crown+2; y++ {
		r := 2
		if y == crown+2 {
			r = 1
		}
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if mathx.AbsInt(dx) == r && mathx.AbsInt(dz) == r && r > 1 {
					continue
				}
				p := terrain.Vec3{X: x + dx, Y: y, Z: z + dz}
				if !w.Get(p).Equal(terrain.Air) {
					continue
				}
				w.Put(p, leaves)
			}
		}
	}
}
