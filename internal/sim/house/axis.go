// Package house plans and builds a single-story log cabin on a levelled site.
//
// Geometry is written once in (u, v) coordinates: u runs along the cabin's
// length, v along its width. Axis projects them onto world x/z and supplies
// the direction names that depend on orientation.
package house

import "cabincraft.ai/internal/terrain"

type Axis struct {
	LengthOnX bool

	// Stair facings on the rising and falling roof halves.
	Ascend  string
	Descend string

	DoorFacing  string
	PairHinges  [2]string // double door, lower u first
	SingleHinge string

	BedFacing string
}

func AxisFor(lengthOnX bool) Axis {
	if lengthOnX {
		return Axis{
			LengthOnX:   true,
			Ascend:      "east",
			Descend:     "west",
			DoorFacing:  "south",
			PairHinges:  [2]string{"right", "left"},
			SingleHinge: "right",
			BedFacing:   "south",
		}
	}
	return Axis{
		Ascend:      "south",
		Descend:     "north",
		DoorFacing:  "east",
		PairHinges:  [2]string{"left", "right"},
		SingleHinge: "right",
		BedFacing:   "east",
	}
}

func (a Axis) World(u, y, v int) terrain.Vec3 {
	if a.LengthOnX {
		return terrain.Vec3{X: u, Y: y, Z: v}
	}
	return terrain.Vec3{X: v, Y: y, Z: u}
}

// UV is the inverse of World.
func (a Axis) UV(p terrain.Vec3) (u, v int) {
	if a.LengthOnX {
		return p.X, p.Z
	}
	return p.Z, p.X
}

func (a Axis) String() string {
	if a.LengthOnX {
		return "x"
	}
	return "z"
}
