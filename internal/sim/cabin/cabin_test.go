package cabin

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	persistlog "cabincraft.ai/internal/persistence/log"
	"cabincraft.ai/internal/protocol"
	"cabincraft.ai/internal/sim/site"
	"cabincraft.ai/internal/terrain"
	"cabincraft.ai/internal/terrain/memory"
)

type recorder struct {
	events []protocol.StageEvent
}

func (r *recorder) Publish(ev protocol.StageEvent) { r.events = append(r.events, ev) }

func (r *recorder) trail() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Stage+":"+ev.Status)
	}
	return out
}

func flatWorld(size, top int) *memory.World {
	w := memory.New(terrain.Box{Origin: terrain.Vec3{Y: -64}, Size: terrain.Vec3{X: size, Y: 384, Z: size}})
	for x := 0; x < size; x++ {
		for z := 0; z < size; z++ {
			w.FillColumn(x, z, top)
		}
	}
	return w
}

func env(tp terrain.Provider, seed int64, rec *recorder) Env {
	e := Env{Terrain: tp, Rand: rand.New(rand.NewSource(seed)), RunID: "run_test"}
	if rec != nil {
		e.Events = rec
	}
	return e
}

func sameTrail(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trail=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trail=%v want %v", got, want)
		}
	}
}

func TestRun_FlatWorld(t *testing.T) {
	w := flatWorld(64, 63)
	rec := &recorder{}
	res, err := Run(context.Background(), env(w, 7, rec), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Site.X != 0 || res.Site.Z != 0 || res.Site.Score != 0 {
		t.Fatalf("site=%+v", res.Site)
	}
	if res.Scan.Scanned != 16 || res.Scan.Rejected != 0 {
		t.Fatalf("scan=%+v", res.Scan)
	}
	if res.Flattened.Target != 63 || res.Edits() != 0 {
		t.Fatalf("flattened=%+v", res.Flattened)
	}
	if res.Plan.Floor() != 64 || res.Stage != protocol.StageDone {
		t.Fatalf("plan floor=%d stage=%s", res.Plan.Floor(), res.Stage)
	}
	o, last := res.Plan.Area.Origin, res.Plan.Area.Last()
	for y := 64; y < 64+res.Plan.WallHeight; y++ {
		for _, c := range [][2]int{{o.X, o.Z}, {last.X, last.Z}} {
			if b := w.Get(terrain.Vec3{X: c[0], Y: y, Z: c[1]}); !b.Is("spruce_log") {
				t.Fatalf("post %v y=%d is %s", c, y, b)
			}
		}
	}
	if w.Flushes() == 0 {
		t.Fatalf("provider never flushed")
	}

	sameTrail(t, rec.trail(),
		"connect:start", "connect:ok",
		"select:start", "select:ok",
		"flatten:start", "flatten:ok",
		"plan:start", "plan:ok",
		"build:start", "build:ok",
		"done:ok")
	for i, ev := range rec.events {
		if ev.Seq != i+1 || ev.RunID != "run_test" {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
	if a := rec.events[1].BuildArea; a == nil || a.From != [3]int{0, -64, 0} || a.To != [3]int{63, 319, 63} {
		t.Fatalf("build area event=%+v", rec.events[1].BuildArea)
	}
}

func TestRun_EventsMatchSchema(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "stage.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rec := &recorder{}
	_, _ = Run(context.Background(), env(flatWorld(32, 63), 3, rec), DefaultOptions())
	_, _ = Run(context.Background(), env(memory.New(terrain.Box{}), 3, rec), DefaultOptions())
	for _, ev := range rec.events {
		b, _ := json.Marshal(ev)
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("%s: %v", b, err)
		}
	}
}

func TestRun_ClearsCanopyAboveTarget(t *testing.T) {
	w := flatWorld(15, 63)
	w.Put(terrain.Vec3{X: 2, Y: 66, Z: 2}, terrain.NewBlock("oak_leaves"))
	w.Put(terrain.Vec3{X: 2, Y: 200, Z: 2}, terrain.NewBlock("oak_leaves"))
	res, err := Run(context.Background(), env(w, 1, nil), DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Flattened.ClearedColumns != 1 || res.Flattened.ClearedBlocks != 320-64 || res.Edits() != 256 {
		t.Fatalf("flattened=%+v", res.Flattened)
	}
	if b := w.Get(terrain.Vec3{X: 2, Y: 200, Z: 2}); !b.Is("air") {
		t.Fatalf("canopy left at y=200: %s", b)
	}
}

func TestRun_Failures(t *testing.T) {
	uneven := memory.New(terrain.Box{Origin: terrain.Vec3{Y: -64}, Size: terrain.Vec3{X: 15, Y: 384, Z: 15}})
	for x := 0; x < 15; x++ {
		for z := 0; z < 15; z++ {
			uneven.FillColumn(x, z, 60+10*((x+z)%2))
		}
	}
	water := flatWorld(15, 60)
	water.Put(terrain.Vec3{X: 7, Y: 61, Z: 7}, terrain.NewBlock("water", "level", "0"))

	cases := []struct {
		name  string
		w     *memory.World
		want  error
		code  string
		stage string
	}{
		{"no build area", memory.New(terrain.Box{}), terrain.ErrNoBuildArea, protocol.ErrNoBuildArea, protocol.StageConnect},
		{"water", water, site.ErrNoSite, protocol.ErrNoSite, protocol.StageSelect},
		{"uneven", uneven, site.ErrTooUneven, protocol.ErrSiteUneven, protocol.StageSelect},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := &recorder{}
			res, err := Run(context.Background(), env(c.w, 1, rec), DefaultOptions())
			if !errors.Is(err, c.want) {
				t.Fatalf("err=%v want %v", err, c.want)
			}
			if got := protocol.CodeOf(err); got != c.code {
				t.Fatalf("code=%s want %s", got, c.code)
			}
			if res.Stage != c.stage {
				t.Fatalf("stage=%s want %s", res.Stage, c.stage)
			}
			if c.w.Writes() != 0 {
				t.Fatalf("%d writes on a failed selection", c.w.Writes())
			}
			n := len(rec.events)
			if n < 2 {
				t.Fatalf("events=%v", rec.trail())
			}
			fail := rec.events[n-1]
			if fail.Stage != protocol.StageFailed || fail.Code != c.code || rec.events[n-2].Status != protocol.StatusError {
				t.Fatalf("trail=%v", rec.trail())
			}
		})
	}
}

func TestRun_BadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.House.Envelope = 20
	rec := &recorder{}
	w := flatWorld(32, 63)
	_, err := Run(context.Background(), env(w, 1, rec), opts)
	if !errors.Is(err, protocol.ErrInvalidConfig) || protocol.CodeOf(err) != protocol.ErrBadConfig {
		t.Fatalf("err=%v", err)
	}
	sameTrail(t, rec.trail(), "failed:error")
	if w.Writes() != 0 {
		t.Fatalf("writes=%d", w.Writes())
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, env(flatWorld(15, 63), 1, nil), DefaultOptions())
	if protocol.CodeOf(err) != protocol.ErrCanceled {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_SameSeedSameCabin(t *testing.T) {
	area := terrain.Box{Origin: terrain.Vec3{Y: -64}, Size: terrain.Vec3{X: 64, Y: 384, Z: 64}}
	run := func() (Result, error) {
		w := memory.Generate(area, memory.DefaultGenOptions(42))
		return Run(context.Background(), env(w, 9, nil), DefaultOptions())
	}
	a, errA := run()
	b, errB := run()
	if (errA == nil) != (errB == nil) || (errA != nil && errA.Error() != errB.Error()) {
		t.Fatalf("errors differ: %v vs %v", errA, errB)
	}
	if a.Site != b.Site || a.Plan != b.Plan || a.Flattened.Target != b.Flattened.Target || a.Edits() != b.Edits() {
		t.Fatalf("runs differ:\n%+v\n%+v", a, b)
	}
	if a.Flattened.Floor.ID != b.Flattened.Floor.ID || a.Report.Bed != b.Report.Bed || a.Report.RoofStairs != b.Report.RoofStairs || a.Report.Writes != b.Report.Writes {
		t.Fatalf("reports differ: %+v vs %+v", a.Report, b.Report)
	}
}

func TestRun_JournalTagsStages(t *testing.T) {
	w := flatWorld(15, 63)
	path := filepath.Join(t.TempDir(), "edits.jsonl.zst")
	j := persistlog.NewJournal(w, path, "run_j")
	if _, err := Run(context.Background(), env(j, 5, nil), DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := persistlog.ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != w.Writes() || len(entries) != j.Entries() {
		t.Fatalf("entries=%d writes=%d", len(entries), w.Writes())
	}
	if entries[0].Stage != protocol.StageFlatten || entries[len(entries)-1].Stage != protocol.StageBuild {
		t.Fatalf("first=%+v last=%+v", entries[0], entries[len(entries)-1])
	}
	for _, e := range entries {
		if e.RunID != "run_j" {
			t.Fatalf("entry %+v", e)
		}
	}
}

func TestOptionsFromTuning(t *testing.T) {
	o := DefaultOptions()
	if o.Site.SizeX != 15 || o.Site.Step != 15 || o.Site.Threshold != 10.0 || o.Flatten.Ceiling != 320 {
		t.Fatalf("site=%+v flatten=%+v", o.Site, o.Flatten)
	}
	if !o.Flatten.Filler.Is("dirt") || len(o.Flatten.FloorWoods) != 4 || o.House.Envelope != 15 {
		t.Fatalf("flatten=%+v house=%+v", o.Flatten, o.House)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
