package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	persistlog "cabincraft.ai/internal/persistence/log"
	"cabincraft.ai/internal/terrain"
	"cabincraft.ai/internal/terrain/gdmc"
)

func main() {
	var (
		journalPath = flag.String("journal", "", "path to an edit journal (.jsonl.zst)")
		stage       = flag.String("stage", "", "only entries from this stage (flatten or build)")
		apply       = flag.Bool("apply", false, "re-apply the journal to the GDMC interface at -host")
		verify      = flag.Bool("verify", false, "read back every journaled position from -host and compare")
		host        = flag.String("host", gdmc.DefaultHost, "GDMC HTTP interface address")
		batch       = flag.Int("batch", 4096, "placements per PUT")
	)
	flag.Parse()

	if *journalPath == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}
	entries, err := persistlog.ReadJournal(*journalPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if s := strings.TrimSpace(*stage); s != "" {
		entries = filterStage(entries, s)
	}

	sum := summarize(entries)
	fmt.Println(sum)
	if !*apply && !*verify {
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	client, err := gdmc.New(gdmc.Config{
		Host:      *host,
		BatchSize: *batch,
		Gzip:      true,
		Timeout:   30 * time.Second,
		Logger:    log.New(os.Stdout, "[replay] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "gdmc:", err)
		os.Exit(2)
	}
	if *apply {
		if err := replay(ctx, client, entries); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		fmt.Printf("replay ok: sent=%d changed=%d\n", client.Sent(), client.Changed())
	}
	if *verify {
		bad, err := check(ctx, client, finalBlocks(entries))
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		if len(bad) > 0 {
			for _, m := range bad {
				fmt.Println(m)
			}
			fmt.Fprintf(os.Stderr, "verify: %d mismatches\n", len(bad))
			os.Exit(1)
		}
		fmt.Printf("verify ok: %d positions\n", sum.Positions)
	}
}

type summary struct {
	Total     int
	Positions int
	ByStage   map[string]int
	ByID      map[string]int
	Min, Max  terrain.Vec3
}

func summarize(entries []persistlog.EditEntry) summary {
	s := summary{ByStage: map[string]int{}, ByID: map[string]int{}}
	seen := map[terrain.Vec3]bool{}
	for i, e := range entries {
		p := terrain.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
		if i == 0 {
			s.Min, s.Max = p, p
		}
		s.Min = terrain.Vec3{X: min(s.Min.X, p.X), Y: min(s.Min.Y, p.Y), Z: min(s.Min.Z, p.Z)}
		s.Max = terrain.Vec3{X: max(s.Max.X, p.X), Y: max(s.Max.Y, p.Y), Z: max(s.Max.Z, p.Z)}
		s.Total++
		s.ByStage[e.Stage]++
		s.ByID[e.ID]++
		seen[p] = true
	}
	s.Positions = len(seen)
	return s
}

func (s summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "journal: writes=%d positions=%d", s.Total, s.Positions)
	if s.Total > 0 {
		fmt.Fprintf(&b, " bounds=%s..%s", s.Min, s.Max)
	}
	for _, k := range sortedKeys(s.ByStage) {
		fmt.Fprintf(&b, "\n  stage %-8s %d", k, s.ByStage[k])
	}
	for _, k := range sortedKeys(s.ByID) {
		fmt.Fprintf(&b, "\n  block %-40s %d", k, s.ByID[k])
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func filterStage(entries []persistlog.EditEntry, stage string) []persistlog.EditEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// finalBlocks is the last block written at each position.
func finalBlocks(entries []persistlog.EditEntry) map[terrain.Vec3]terrain.Block {
	out := make(map[terrain.Vec3]terrain.Block, len(entries))
	for _, e := range entries {
		out[terrain.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}] = terrain.Block{ID: e.ID, State: e.State}
	}
	return out
}

type flushWriter interface {
	terrain.BlockWriter
	Flush(ctx context.Context) error
}

// replay writes entries in journal order and flushes.
func replay(ctx context.Context, w flushWriter, entries []persistlog.EditEntry) error {
	for _, e := range entries {
		pos := terrain.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
		if err := w.SetBlock(ctx, pos, terrain.Block{ID: e.ID, State: e.State}); err != nil {
			return fmt.Errorf("seq %d at %s: %w", e.Seq, pos, err)
		}
	}
	return w.Flush(ctx)
}

// check compares block ids only; servers may report extra default state.
func check(ctx context.Context, r terrain.BlockReader, want map[terrain.Vec3]terrain.Block) ([]string, error) {
	positions := make([]terrain.Vec3, 0, len(want))
	for p := range want {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	var bad []string
	for _, p := range positions {
		got, err := r.Block(ctx, p)
		if err != nil {
			return bad, err
		}
		if !got.Is(want[p].ID) {
			bad = append(bad, fmt.Sprintf("%s: got=%s want=%s", p, got.ID, want[p].ID))
		}
	}
	return bad, nil
}
