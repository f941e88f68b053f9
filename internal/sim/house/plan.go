package house

import (
	"fmt"
	"math/rand"

	"cabincraft.ai/internal/sim/mathx"
	"cabincraft.ai/internal/terrain"
)

// Options are the catalogs a cabin shape is drawn from.
type Options struct {
	Lengths     []int
	WallHeights []int
	Width       int
	// Envelope is the side of the square, anchored at the site origin, the
	// cabin must fit inside.
	Envelope int
}

func DefaultOptions() Options {
	return Options{
		Lengths:     []int{6, 7},
		WallHeights: []int{5, 7},
		Width:       9,
		Envelope:    15,
	}
}

func (o Options) Validate() error {
	if len(o.Lengths) == 0 || len(o.WallHeights) == 0 {
		return fmt.Errorf("house: empty length or wall height options")
	}
	for _, l := range o.Lengths {
		if l < 4 {
			return fmt.Errorf("house: length %d too short", l)
		}
	}
	for _, h := range o.WallHeights {
		if h < 3 {
			return fmt.Errorf("house: wall height %d too low", h)
		}
	}
	if o.Width < 7 {
		return fmt.Errorf("house: width %d too narrow", o.Width)
	}
	if o.Envelope <= 0 {
		return fmt.Errorf("house: envelope %d", o.Envelope)
	}
	return nil
}

// Spec is the drawn shape of the cabin.
type Spec struct {
	LengthOnX  bool
	Length     int
	Width      int
	WallHeight int
}

func (s Spec) Even() bool { return s.Length%2 == 0 }

// Plan is a spec placed in the world. Area's origin is the floor-level corner.
type Plan struct {
	Spec
	Axis Axis
	Area terrain.Box
	U0   int
	V0   int
}

func (p Plan) Floor() int { return p.Area.Origin.Y }

// Ceiling is the first y above the walls.
func (p Plan) Ceiling() int { return p.Area.Origin.Y + p.WallHeight }

// Mid is the roof ridge position along u.
func (p Plan) Mid() int { return mathx.FloorDiv(2*p.U0+p.Length, 2) }

// Draw picks orientation, length then wall height.
func Draw(rng *rand.Rand, opts Options) Spec {
	return Spec{
		LengthOnX:  rng.Intn(2) == 0,
		Length:     opts.Lengths[rng.Intn(len(opts.Lengths))],
		WallHeight: opts.WallHeights[rng.Intn(len(opts.WallHeights))],
		Width:      opts.Width,
	}
}

// Place anchors spec at a random start inside env, x first then z.
func Place(rng *rand.Rand, spec Spec, env terrain.Rect, floorY int) (Plan, error) {
	lenX, lenZ := spec.Width, spec.Length
	if spec.LengthOnX {
		lenX, lenZ = spec.Length, spec.Width
	}
	if env.W < lenX || env.D < lenZ {
		return Plan{}, fmt.Errorf("house: %dx%d does not fit envelope %dx%d", lenX, lenZ, env.W, env.D)
	}
	sx := env.X + rng.Intn(env.W-lenX+1)
	sz := env.Z + rng.Intn(env.D-lenZ+1)

	p := Plan{
		Spec: spec,
		Axis: AxisFor(spec.LengthOnX),
		Area: terrain.Box{
			Origin: terrain.Vec3{X: sx, Y: floorY, Z: sz},
			Size:   terrain.Vec3{X: lenX, Y: spec.WallHeight, Z: lenZ},
		},
	}
	p.U0, p.V0 = p.Axis.UV(p.Area.Origin)
	return p, nil
}

// New draws and places a cabin on the envelope at (x, z) whose floor is one
// above the levelled target.
func New(rng *rand.Rand, x, z, target int, opts Options) (Plan, error) {
	if err := opts.Validate(); err != nil {
		return Plan{}, err
	}
	spec := Draw(rng, opts)
	env := terrain.Rect{X: x, Z: z, W: opts.Envelope, D: opts.Envelope}
	return Place(rng, spec, env, target+1)
}
