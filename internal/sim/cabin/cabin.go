// Package cabin runs the full site-to-structure pipeline against a terrain
// provider: select a level water-free site, flatten it, draw a cabin and
// build it.
package cabin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"cabincraft.ai/internal/protocol"
	"cabincraft.ai/internal/sim/catalogs"
	"cabincraft.ai/internal/sim/house"
	"cabincraft.ai/internal/sim/site"
	"cabincraft.ai/internal/sim/tuning"
	"cabincraft.ai/internal/terrain"
)

// Sink receives stage events. observer.Hub is one.
type Sink interface {
	Publish(ev protocol.StageEvent)
}

// Env is everything a run touches outside its options. Rand drives every
// random draw, so a fixed seed reproduces a run on the same terrain.
type Env struct {
	Terrain terrain.Provider
	Rand    *rand.Rand
	Log     *log.Logger
	Events  Sink
	RunID   string
}

type Options struct {
	Site      site.Options
	Flatten   site.FlattenOptions
	House     house.Options
	Materials catalogs.Materials
}

func DefaultOptions() Options {
	return OptionsFromTuning(tuning.Defaults(), nil)
}

// OptionsFromTuning maps the tuning file and material catalogs onto the
// pipeline. A nil cats means the built-in catalogs.
func OptionsFromTuning(t tuning.Tuning, cats *catalogs.Catalogs) Options {
	m := catalogs.DefaultMaterials()
	if cats != nil {
		m = cats.Materials
	}
	return Options{
		Site: site.Options{
			SizeX:     t.Site.CandidateSize,
			SizeZ:     t.Site.CandidateSize,
			Step:      t.Site.ScanStep,
			Threshold: t.Site.VarianceThreshold,
		},
		Flatten: site.FlattenOptions{
			Ceiling:    t.Site.ClearCeiling,
			Filler:     terrain.NewBlock(m.Filler),
			FloorWoods: m.FloorWoods,
		},
		House: house.Options{
			Lengths:     t.House.Lengths,
			WallHeights: t.House.WallHeights,
			Width:       t.House.Width,
			Envelope:    t.House.Envelope,
		},
		Materials: m,
	}
}

// Validate rejects option sets that could not produce a cabin on any
// terrain. Errors match protocol.ErrInvalidConfig.
func (o Options) Validate() error {
	if err := o.Site.Validate(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidConfig, err)
	}
	if err := o.House.Validate(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidConfig, err)
	}
	if err := o.Materials.Validate(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidConfig, err)
	}
	if o.House.Envelope > o.Site.SizeX || o.House.Envelope > o.Site.SizeZ {
		return fmt.Errorf("%w: house envelope %d larger than site %dx%d", protocol.ErrInvalidConfig, o.House.Envelope, o.Site.SizeX, o.Site.SizeZ)
	}
	for _, l := range o.House.Lengths {
		if l > o.House.Envelope || o.House.Width > o.House.Envelope {
			return fmt.Errorf("%w: %dx%d cabin does not fit envelope %d", protocol.ErrInvalidConfig, l, o.House.Width, o.House.Envelope)
		}
	}
	if len(o.Flatten.FloorWoods) == 0 {
		return fmt.Errorf("%w: empty floor catalog", protocol.ErrInvalidConfig)
	}
	if o.Flatten.Ceiling <= 0 {
		return fmt.Errorf("%w: clear ceiling %d", protocol.ErrInvalidConfig, o.Flatten.Ceiling)
	}
	return nil
}

// Result is what a run decided. Fields are filled in stage order, so a
// failed run carries everything up to the failing stage.
type Result struct {
	BuildArea terrain.Box
	Scan      site.ScanResult
	Site      site.Selection
	Flattened site.Flattened
	Plan      house.Plan
	Report    house.Report

	// Stage is the last stage entered.
	Stage string
}

// Edits is the number of terrain blocks cleared or filled. Floor and
// structure writes are not counted.
func (r Result) Edits() int { return r.Flattened.Edits() }

type stageSetter interface {
	SetStage(stage string)
}

type runner struct {
	env  Env
	opts Options
	res  Result
	seq  int
}

// Run drives one cabin end to end and flushes the provider before
// returning. On failure a failed event is published and the error is
// returned with the partial result.
func Run(ctx context.Context, env Env, opts Options) (Result, error) {
	if env.Terrain == nil {
		return Result{}, fmt.Errorf("%w: no terrain provider", protocol.ErrInvalidConfig)
	}
	if env.Rand == nil {
		env.Rand = rand.New(rand.NewSource(1))
	}
	r := &runner{env: env, opts: opts}
	err := opts.Validate()
	if err == nil {
		err = r.run(ctx)
	}
	if err != nil {
		// Push out whatever flatten or build already queued.
		if r.res.Stage == protocol.StageFlatten || r.res.Stage == protocol.StageBuild {
			if ctx.Err() == nil {
				_ = env.Terrain.Flush(ctx)
			}
		}
		code := protocol.CodeOf(err)
		if r.res.Stage != "" {
			r.emit(protocol.StageEvent{Stage: r.res.Stage, Status: protocol.StatusError, Code: code, Message: err.Error()})
		}
		r.emit(protocol.StageEvent{Stage: protocol.StageFailed, Status: protocol.StatusError, Code: code, Message: err.Error()})
		return r.res, err
	}
	return r.res, nil
}

func (r *runner) run(ctx context.Context) error {
	tp := r.env.Terrain

	r.enter(protocol.StageConnect)
	if err := tp.Ping(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	area, err := tp.BuildArea(ctx)
	if err != nil {
		return fmt.Errorf("build area: %w", err)
	}
	if area.Empty() {
		return fmt.Errorf("build area: %w", terrain.ErrNoBuildArea)
	}
	r.res.BuildArea = area
	last := area.Last()
	r.emit(protocol.StageEvent{
		Stage: protocol.StageConnect, Status: protocol.StatusOK,
		BuildArea: &protocol.AreaInfo{
			From: [3]int{area.Origin.X, area.Origin.Y, area.Origin.Z},
			To:   [3]int{last.X, last.Y, last.Z},
		},
	})

	rect := area.Rect()
	ground, err := tp.HeightGrid(ctx, rect, terrain.MotionBlockingNoLeaves)
	if err != nil {
		return fmt.Errorf("ground heightmap: %w", err)
	}
	canopy, err := tp.HeightGrid(ctx, rect, terrain.MotionBlocking)
	if err != nil {
		return fmt.Errorf("canopy heightmap: %w", err)
	}

	r.enter(protocol.StageSelect)
	r.logf("Searching for optimal build area...")
	sel, scan, err := site.Select(ctx, tp, ground, r.opts.Site)
	r.res.Scan = scan
	if err != nil {
		switch {
		case errors.Is(err, site.ErrTooUneven):
			r.logf("Lowest variance %.3f is above the threshold %.3f", scan.Best.Score, r.opts.Site.Threshold)
		case errors.Is(err, site.ErrNoSite):
			r.logf("Every candidate (%d) has water on the surface", scan.Scanned)
		}
		return fmt.Errorf("select: %w", err)
	}
	r.res.Site = sel
	r.logf("Optimal building spot found at: (%d, %d) with variance: %g", sel.X, sel.Z, sel.Score)
	r.emit(protocol.StageEvent{
		Stage: protocol.StageSelect, Status: protocol.StatusOK,
		Site: &protocol.SiteInfo{X: sel.X, Z: sel.Z, Variance: sel.Score, Scanned: scan.Scanned, Rejected: scan.Rejected},
	})

	r.enter(protocol.StageFlatten)
	flat, err := site.Flatten(ctx, tp, r.env.Rand, sel, ground, canopy, r.opts.Flatten)
	r.res.Flattened = flat
	if err != nil {
		return fmt.Errorf("flatten: %w", err)
	}
	r.logf("Base height for building after flattening: %d", flat.Target)
	r.logf("cleared %d blocks in %d columns, filled %d blocks in %d columns, floor %s",
		flat.ClearedBlocks, flat.ClearedColumns, flat.FilledBlocks, flat.FilledColumns, flat.Floor.ID)
	r.emit(protocol.StageEvent{
		Stage: protocol.StageFlatten, Status: protocol.StatusOK,
		Flatten: &protocol.FlattenInfo{Target: flat.Target, Floor: flat.Floor.ID, Cleared: flat.ClearedBlocks, Filled: flat.FilledBlocks},
	})

	r.enter(protocol.StagePlan)
	plan, err := house.New(r.env.Rand, sel.X, sel.Z, flat.Target, r.opts.House)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	r.res.Plan = plan
	r.emit(protocol.StageEvent{Stage: protocol.StagePlan, Status: protocol.StatusOK, House: houseInfo(plan, 0)})

	r.enter(protocol.StageBuild)
	r.logf("Building %s-axis cabin %dx%d, walls %d high, at %s...", plan.Axis, plan.Length, plan.Width, plan.WallHeight, plan.Area.Origin)
	rep, err := house.Build(ctx, tp, r.env.Rand, plan, r.opts.Materials)
	r.res.Report = rep
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := tp.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	r.logf("Interior complete: %d doors, %d lanterns, %s bed, %d furnishings", len(rep.Doors), len(rep.Lanterns), rep.Bed, len(rep.Furnishings))
	r.emit(protocol.StageEvent{Stage: protocol.StageBuild, Status: protocol.StatusOK, House: houseInfo(plan, rep.Writes)})

	r.res.Stage = protocol.StageDone
	r.emit(protocol.StageEvent{Stage: protocol.StageDone, Status: protocol.StatusOK})
	return nil
}

// enter marks a new stage: journals get tagged and observers see a start.
func (r *runner) enter(stage string) {
	r.res.Stage = stage
	if s, ok := r.env.Terrain.(stageSetter); ok {
		s.SetStage(stage)
	}
	r.emit(protocol.StageEvent{Stage: stage, Status: protocol.StatusStart})
}

func (r *runner) emit(ev protocol.StageEvent) {
	if r.env.Events == nil {
		return
	}
	r.seq++
	ev.Type = protocol.TypeStage
	ev.ProtocolVersion = protocol.Version
	ev.RunID = r.env.RunID
	ev.Seq = r.seq
	r.env.Events.Publish(ev)
}

func (r *runner) logf(format string, args ...any) {
	if r.env.Log != nil {
		r.env.Log.Printf(format, args...)
	}
}

func houseInfo(p house.Plan, writes int) *protocol.HouseInfo {
	o := p.Area.Origin
	return &protocol.HouseInfo{
		Axis:       p.Axis.String(),
		Length:     p.Length,
		Width:      p.Width,
		WallHeight: p.WallHeight,
		Origin:     [3]int{o.X, o.Y, o.Z},
		Writes:     writes,
	}
}
