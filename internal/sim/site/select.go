// Package site picks the flattest dry patch of a build area and levels it.
package site

import (
	"context"
	"errors"
	"fmt"
	"math"

	"cabincraft.ai/internal/sim/mathx"
	"cabincraft.ai/internal/terrain"
)

var (
	// ErrNoSite means every candidate was rejected for water (or had no samples).
	ErrNoSite = errors.New("no water-free candidate")
	// ErrTooUneven means the best candidate is not below the variance threshold.
	ErrTooUneven = errors.New("best candidate too uneven")
)

// Options sizes the candidate footprint and the scan stride. Threshold is the
// exclusive upper bound on an acceptable variance.
type Options struct {
	SizeX, SizeZ int
	Step         int
	Threshold    float64
}

// DefaultOptions scans 15x15 footprints every 15 blocks and accepts variance below 10.
func DefaultOptions() Options {
	return Options{SizeX: 15, SizeZ: 15, Step: 15, Threshold: 10.0}
}

func (o Options) Validate() error {
	if o.SizeX <= 0 || o.SizeZ <= 0 {
		return fmt.Errorf("candidate size must be positive: %dx%d", o.SizeX, o.SizeZ)
	}
	if o.Step <= 0 {
		return fmt.Errorf("scan step must be positive: %d", o.Step)
	}
	return nil
}

// Candidate is a scanned footprint origin and its ground variance.
type Candidate struct {
	X, Z  int
	Score float64
}

// ScanResult is the outcome of a full scan. Best.Score is +Inf when Found is false.
type ScanResult struct {
	Best     Candidate
	Found    bool
	Scanned  int
	Rejected int
}

// Selection is an accepted candidate with its footprint.
type Selection struct {
	Candidate
	Rect terrain.Rect
}

// Scan walks candidate origins x-outer z-inner over the ground grid and keeps
// the strictly lowest population variance of ground y among candidates with no
// still water on the surface. Columns outside the grid are skipped.
func Scan(ctx context.Context, r terrain.BlockReader, ground *terrain.HeightGrid, opts Options) (ScanResult, error) {
	if err := opts.Validate(); err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Best: Candidate{Score: math.Inf(1)}}
	rect := ground.Rect
	heights := make([]int, 0, opts.SizeX*opts.SizeZ)

	for x := rect.X; x <= rect.EndX()-opts.SizeX; x += opts.Step {
		for z := rect.Z; z <= rect.EndZ()-opts.SizeZ; z += opts.Step {
			res.Scanned++
			heights = heights[:0]
			wet, err := sample(ctx, r, ground, x, z, opts, &heights)
			if err != nil {
				return res, err
			}
			if wet || len(heights) == 0 {
				res.Rejected++
				continue
			}
			score := mathx.PopVariance(heights)
			if score < res.Best.Score {
				res.Best = Candidate{X: x, Z: z, Score: score}
				res.Found = true
			}
		}
	}
	return res, nil
}

func sample(ctx context.Context, r terrain.BlockReader, ground *terrain.HeightGrid, x0, z0 int, opts Options, out *[]int) (bool, error) {
	for x := x0; x < x0+opts.SizeX; x++ {
		for z := z0; z < z0+opts.SizeZ; z++ {
			h, ok := ground.AtWorld(x, z)
			if !ok {
				continue
			}
			y := h - 1
			b, err := r.Block(ctx, terrain.Vec3{X: x, Y: y, Z: z})
			if err != nil {
				return false, fmt.Errorf("sample %d,%d,%d: %w", x, y, z, err)
			}
			if terrain.IsStillWater(b) {
				return true, nil
			}
			*out = append(*out, y)
		}
	}
	return false, nil
}

// Select scans and applies the acceptance threshold.
func Select(ctx context.Context, r terrain.BlockReader, ground *terrain.HeightGrid, opts Options) (Selection, ScanResult, error) {
	res, err := Scan(ctx, r, ground, opts)
	if err != nil {
		return Selection{}, res, err
	}
	if !res.Found {
		return Selection{}, res, fmt.Errorf("%w: %d of %d candidates rejected", ErrNoSite, res.Rejected, res.Scanned)
	}
	if !(res.Best.Score < opts.Threshold) {
		return Selection{}, res, fmt.Errorf("%w: variance %.3f >= %.3f", ErrTooUneven, res.Best.Score, opts.Threshold)
	}
	return Selection{
		Candidate: res.Best,
		Rect:      terrain.Rect{X: res.Best.X, Z: res.Best.Z, W: opts.SizeX, D: opts.SizeZ},
	}, res, nil
}
