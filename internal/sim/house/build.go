package house

import (
	"context"
	"fmt"
	"math/rand"

	"cabincraft.ai/internal/sim/catalogs"
	"cabincraft.ai/internal/terrain"
)

// Placed is one furnishing or fixture position.
type Placed struct {
	ID  string
	Pos terrain.Vec3
}

type Report struct {
	Doors       []terrain.Vec3 // lower halves
	Lanterns    []terrain.Vec3
	BedFoot     terrain.Vec3
	BedHead     terrain.Vec3
	Bed         string
	Furnishings []Placed
	RoofStairs  string
	RidgeSlab   string
	Writes      int
}

// placer writes in (u, y, v) and keeps the first error; later calls no-op.
type placer struct {
	ctx  context.Context
	w    terrain.BlockWriter
	axis Axis
	err  error
	n    int
}

func (p *placer) set(u, y, v int, b terrain.Block) {
	if p.err != nil {
		return
	}
	pos := p.axis.World(u, y, v)
	if err := p.w.SetBlock(p.ctx, pos, b); err != nil {
		p.err = fmt.Errorf("place %s at %s: %w", b.ID, pos, err)
		return
	}
	p.n++
}

// Build emits the cabin: walls, corner posts, doors, roof, gable windows,
// lanterns, bed and furnishings, in that order. Random draws after planning
// are roof stairs, ridge slab, ridge lantern v, bed, bed side, then one v per
// furnishing.
func Build(ctx context.Context, w terrain.BlockWriter, rng *rand.Rand, plan Plan, mats catalogs.Materials) (Report, error) {
	if err := mats.Validate(); err != nil {
		return Report{}, err
	}
	L, W := plan.Length, plan.Width
	if pool := W - 3; len(mats.Furnishings) > pool {
		return Report{}, fmt.Errorf("house: %d furnishings do not fit %d free spots", len(mats.Furnishings), pool)
	}
	u0, v0 := plan.U0, plan.V0
	floor, ceil := plan.Floor(), plan.Ceiling()
	mid := plan.Mid()
	ax := plan.Axis
	p := &placer{ctx: ctx, w: w, axis: ax}
	var rep Report

	wall := terrain.NewBlock(mats.Wall)
	for y := floor; y < ceil; y++ {
		for u := u0; u < u0+L; u++ {
			p.set(u, y, v0, wall)
			p.set(u, y, v0+W-1, wall)
		}
		for v := v0; v < v0+W; v++ {
			p.set(u0, y, v, wall)
			p.set(u0+L-1, y, v, wall)
		}
	}

	post := terrain.NewBlock(mats.Post)
	for y := floor; y < ceil; y++ {
		for _, c := range [][2]int{{u0, v0}, {u0, v0 + W - 1}, {u0 + L - 1, v0}, {u0 + L - 1, v0 + W - 1}} {
			p.set(c[0], y, c[1], post)
		}
	}

	door := func(u int, hinge string) {
		p.set(u, floor, v0, terrain.NewBlock(mats.Door, "facing", ax.DoorFacing, "hinge", hinge, "half", "lower"))
		p.set(u, floor+1, v0, terrain.NewBlock(mats.Door, "facing", ax.DoorFacing, "hinge", hinge, "half", "upper"))
		rep.Doors = append(rep.Doors, ax.World(u, floor, v0))
	}
	if plan.Even() {
		door(mid-1, ax.PairHinges[0])
		door(mid, ax.PairHinges[1])
	} else {
		door(mid, ax.SingleHinge)
	}

	rep.RoofStairs = mats.RoofStairs[rng.Intn(len(mats.RoofStairs))]
	rep.RidgeSlab = mats.RidgeSlabs[rng.Intn(len(mats.RidgeSlabs))]
	slab := terrain.NewBlock(rep.RidgeSlab)
	up := terrain.NewBlock(rep.RoofStairs, "facing", ax.Ascend)
	down := terrain.NewBlock(rep.RoofStairs, "facing", ax.Descend)
	for u := u0 - 1; u <= u0+L; u++ {
		y := ceil + slope(u, u0, L, mid)
		b := down
		switch {
		case u == mid || (plan.Even() && u == mid-1):
			b = slab
		case u < mid:
			b = up
		}
		for v := v0 - 1; v <= v0+W; v++ {
			p.set(u, y, v, b)
		}
	}

	glass := terrain.NewBlock(mats.Window)
	for _, v := range []int{v0, v0 + W - 1} {
		for u := u0 + 1; u < u0+L-1; u++ {
			p.set(u, ceil, v, glass)
		}
		for u := u0 + 2; u < u0+L-2; u++ {
			p.set(u, ceil+1, v, glass)
		}
		if !plan.Even() {
			p.set(u0+3, ceil+2, v, glass)
		}
	}

	lantern := terrain.NewBlock(mats.Light, "hanging", "true")
	ridgeY := ceil + 1
	if !plan.Even() {
		ridgeY = ceil + 2
	}
	lanterns := [][3]int{
		{u0 + 1, ceil, v0 + 1},
		{u0 + L - 2, ceil, v0 + W - 2},
		{mid, ridgeY, v0 + 2 + rng.Intn(W-3)},
	}
	for _, l := range lanterns {
		p.set(l[0], l[1], l[2], lantern)
		rep.Lanterns = append(rep.Lanterns, ax.World(l[0], l[1], l[2]))
	}

	rep.Bed = mats.Beds[rng.Intn(len(mats.Beds))]
	sides := [2]int{u0 + 1, u0 + L - 2}
	pick := rng.Intn(2)
	bedU, itemU := sides[pick], sides[1-pick]
	p.set(bedU, floor, v0+W-3, terrain.NewBlock(rep.Bed, "facing", ax.BedFacing, "part", "foot"))
	p.set(bedU, floor, v0+W-2, terrain.NewBlock(rep.Bed, "facing", ax.BedFacing, "part", "head"))
	rep.BedFoot = ax.World(bedU, floor, v0+W-3)
	rep.BedHead = ax.World(bedU, floor, v0+W-2)

	free := make([]int, 0, W-3)
	for v := v0 + 2; v <= v0+W-2; v++ {
		free = append(free, v)
	}
	for _, id := range mats.Furnishings {
		i := rng.Intn(len(free))
		v := free[i]
		free = append(free[:i], free[i+1:]...)
		p.set(itemU, floor, v, terrain.NewBlock(id))
		rep.Furnishings = append(rep.Furnishings, Placed{ID: terrain.NormalizeID(id), Pos: ax.World(itemU, floor, v)})
	}

	rep.Writes = p.n
	if p.err != nil {
		return rep, p.err
	}
	return rep, nil
}

// slope is the roof offset above the wall tops at u. Even lengths drop one
// extra block on the falling side so both ridge slabs sit level.
func slope(u, u0, length, mid int) int {
	if u < mid {
		return u - u0
	}
	s := length/2 - (u - mid)
	if length%2 == 0 {
		s--
	}
	return s
}
