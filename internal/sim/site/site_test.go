package site

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"cabincraft.ai/internal/terrain"
	"cabincraft.ai/internal/terrain/memory"
)

// newWorld builds a w×d area at the origin whose column (x,z) is solid up to top(x,z).
func newWorld(w, d int, top func(x, z int) int) *memory.World {
	area := terrain.Box{Origin: terrain.Vec3{X: 0, Y: -64, Z: 0}, Size: terrain.Vec3{X: w, Y: 384, Z: d}}
	mw := memory.New(area)
	for x := 0; x < w; x++ {
		for z := 0; z < d; z++ {
			mw.FillColumn(x, z, top(x, z))
		}
	}
	return mw
}

func grids(t *testing.T, w *memory.World) (ground, canopy *terrain.HeightGrid) {
	t.Helper()
	ctx := context.Background()
	rect := w.Area().Rect()
	g, err := w.HeightGrid(ctx, rect, terrain.MotionBlockingNoLeaves)
	if err != nil {
		t.Fatalf("ground: %v", err)
	}
	c, err := w.HeightGrid(ctx, rect, terrain.MotionBlocking)
	if err != nil {
		t.Fatalf("canopy: %v", err)
	}
	return g, c
}

func TestSelect_PicksStrictlyLowestVariance(t *testing.T) {
	w := newWorld(30, 15, func(x, z int) int {
		if x < 15 {
			return 63 + (x+z)%2
		}
		return 63
	})
	ground, _ := grids(t, w)
	sel, res, err := Select(context.Background(), w, ground, DefaultOptions())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.X != 15 || sel.Z != 0 || sel.Score != 0 {
		t.Fatalf("selection=%+v", sel)
	}
	if res.Scanned != 2 || res.Rejected != 0 {
		t.Fatalf("scan=%+v", res)
	}
}

func TestSelect_TiesKeepFirst(t *testing.T) {
	w := newWorld(30, 30, func(x, z int) int { return 70 })
	ground, _ := grids(t, w)
	sel, res, err := Select(context.Background(), w, ground, DefaultOptions())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.X != 0 || sel.Z != 0 {
		t.Fatalf("selection=%+v want origin", sel)
	}
	if res.Scanned != 4 {
		t.Fatalf("scanned=%d want 4", res.Scanned)
	}
}

func TestSelect_OverlappingStepScansEveryOrigin(t *testing.T) {
	w := newWorld(20, 15, func(x, z int) int {
		if x >= 5 {
			return 64
		}
		return 60 + x
	})
	ground, _ := grids(t, w)
	opts := DefaultOptions()
	opts.Step = 5
	sel, res, err := Select(context.Background(), w, ground, opts)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Scanned != 2 || sel.X != 5 {
		t.Fatalf("scanned=%d sel=%+v", res.Scanned, sel)
	}
}

func TestSelect_AllWater(t *testing.T) {
	w := newWorld(15, 15, func(x, z int) int { return 60 })
	for x := 0; x < 15; x++ {
		w.Put(terrain.Vec3{X: x, Y: 61, Z: 7}, terrain.NewBlock("water", "level", "0"))
	}
	ground, _ := grids(t, w)
	_, res, err := Select(context.Background(), w, ground, DefaultOptions())
	if !errors.Is(err, ErrNoSite) {
		t.Fatalf("err=%v want ErrNoSite", err)
	}
	if res.Found || res.Rejected != 1 {
		t.Fatalf("scan=%+v", res)
	}
}

func TestSelect_FlowingWaterIsNotRejected(t *testing.T) {
	w := newWorld(15, 15, func(x, z int) int { return 60 })
	w.Put(terrain.Vec3{X: 3, Y: 61, Z: 3}, terrain.NewBlock("water", "level", "2"))
	ground, _ := grids(t, w)
	if _, _, err := Select(context.Background(), w, ground, DefaultOptions()); err != nil {
		t.Fatalf("Select: %v", err)
	}
}

func TestSelect_TooUneven(t *testing.T) {
	w := newWorld(15, 15, func(x, z int) int {
		if (x+z)%2 == 0 {
			return 60
		}
		return 70
	})
	ground, _ := grids(t, w)
	_, res, err := Select(context.Background(), w, ground, DefaultOptions())
	if !errors.Is(err, ErrTooUneven) {
		t.Fatalf("err=%v want ErrTooUneven", err)
	}
	if !res.Found || res.Best.Score < 10 {
		t.Fatalf("scan=%+v", res)
	}
}

func TestSelect_RejectsBadOptions(t *testing.T) {
	w := newWorld(15, 15, func(x, z int) int { return 60 })
	ground, _ := grids(t, w)
	opts := DefaultOptions()
	opts.Step = 0
	if _, _, err := Select(context.Background(), w, ground, opts); err == nil {
		t.Fatalf("expected error for zero step")
	}
}

func TestFlatten_LevelsFootprint(t *testing.T) {
	ctx := context.Background()
	w := newWorld(15, 15, func(x, z int) int { return 62 + (x*7+z*3)%5 - 2 })
	w.Put(terrain.Vec3{X: 4, Y: 80, Z: 4}, terrain.NewBlock("oak_leaves"))
	for y := 63; y < 70; y++ {
		w.Put(terrain.Vec3{X: 10, Y: y, Z: 10}, terrain.NewBlock("oak_log"))
	}
	ground, canopy := grids(t, w)
	sel, _, err := Select(ctx, w, ground, Options{SizeX: 15, SizeZ: 15, Step: 15, Threshold: 100})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	flat, err := Flatten(ctx, w, rand.New(rand.NewSource(1)), sel, ground, canopy, DefaultFlattenOptions())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flat.ClearedColumns == 0 || flat.FilledColumns == 0 {
		t.Fatalf("expected both clears and fills: %+v", flat)
	}

	g2, c2 := grids(t, w)
	for x := 0; x < 15; x++ {
		for z := 0; z < 15; z++ {
			gv, _ := g2.At(x, z)
			cv, _ := c2.At(x, z)
			if cv > flat.Target+1 || gv < flat.Target {
				t.Fatalf("column %d,%d ground=%d canopy=%d target=%d", x, z, gv, cv, flat.Target)
			}
			if !w.Get(terrain.Vec3{X: x, Y: flat.Target, Z: z}).Equal(flat.Floor) {
				t.Fatalf("no floor at %d,%d", x, z)
			}
		}
	}
}

func TestFlatten_TargetTruncatesTowardZero(t *testing.T) {
	ctx := context.Background()
	// 14 columns at 64 and the rest at 63 average just above 63
	w := newWorld(15, 15, func(x, z int) int {
		if x == 0 && z < 14 {
			return 64
		}
		return 63
	})
	ground, canopy := grids(t, w)
	sel, _, err := Select(ctx, w, ground, DefaultOptions())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	flat, err := Flatten(ctx, w, rand.New(rand.NewSource(3)), sel, ground, canopy, DefaultFlattenOptions())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flat.Target != 63 {
		t.Fatalf("target=%d want 63", flat.Target)
	}
	if flat.ClearedColumns != 14 || flat.FilledBlocks != 0 {
		t.Fatalf("flat=%+v", flat)
	}
}

func TestFlatten_FlatSiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newWorld(15, 15, func(x, z int) int { return 63 })
	ground, canopy := grids(t, w)
	sel, _, err := Select(ctx, w, ground, DefaultOptions())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Score != 0 {
		t.Fatalf("flat variance=%v want 0", sel.Score)
	}

	first, err := Flatten(ctx, w, rand.New(rand.NewSource(9)), sel, ground, canopy, DefaultFlattenOptions())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if first.Target != 63 || first.Edits() != 0 {
		t.Fatalf("first=%+v", first)
	}
	before := w.Changes()
	second, err := Flatten(ctx, w, rand.New(rand.NewSource(9)), sel, ground, canopy, DefaultFlattenOptions())
	if err != nil {
		t.Fatalf("Flatten again: %v", err)
	}
	if w.Changes() != before || !second.Floor.Equal(first.Floor) {
		t.Fatalf("second flatten changed %d blocks", w.Changes()-before)
	}
}

func TestFlatten_ClearsAndFillsSameColumn(t *testing.T) {
	ctx := context.Background()
	// one dip under a leaf overhang; one bump keeps the mean at exactly 63
	w := newWorld(15, 15, func(x, z int) int {
		switch {
		case x == 5 && z == 5:
			return 60
		case x == 14 && z == 14:
			return 66
		}
		return 63
	})
	w.Put(terrain.Vec3{X: 5, Y: 70, Z: 5}, terrain.NewBlock("spruce_leaves"))
	ground, canopy := grids(t, w)
	sel, _, err := Select(ctx, w, ground, Options{SizeX: 15, SizeZ: 15, Step: 15, Threshold: 100})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	flat, err := Flatten(ctx, w, rand.New(rand.NewSource(2)), sel, ground, canopy, DefaultFlattenOptions())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if flat.Target != 63 || flat.ClearedColumns != 2 || flat.FilledColumns != 1 || flat.FilledBlocks != 3 {
		t.Fatalf("flat=%+v", flat)
	}
	for y := 61; y < 63; y++ {
		if b := w.Get(terrain.Vec3{X: 5, Y: y, Z: 5}); !b.Is("dirt") {
			t.Fatalf("y=%d under the overhang is %s", y, b)
		}
	}
	if b := w.Get(terrain.Vec3{X: 5, Y: 70, Z: 5}); !b.Is("air") {
		t.Fatalf("overhang left: %s", b)
	}
}
