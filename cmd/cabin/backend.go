package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"cabincraft.ai/internal/sim/tuning"
	"cabincraft.ai/internal/terrain"
	"cabincraft.ai/internal/terrain/gdmc"
	"cabincraft.ai/internal/terrain/memory"
)

var backends = []string{"gdmc", "memory"}

func newProvider(name string, tune tuning.Tuning, seed int64, logger *log.Logger) (terrain.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gdmc":
		return gdmc.New(gdmc.Config{
			Host:      tune.GDMC.Host,
			Timeout:   time.Duration(tune.GDMC.TimeoutMs) * time.Millisecond,
			BatchSize: tune.GDMC.BatchSize,
			Gzip:      tune.GDMC.Gzip,
			Logger:    log.New(os.Stdout, "[gdmc] ", log.LstdFlags|log.Lmicroseconds),
		})
	case "memory":
		syn := tune.Synthetic
		area := terrain.Box{
			Origin: terrain.Vec3{X: 0, Y: -64, Z: 0},
			Size:   terrain.Vec3{X: syn.SizeX, Y: 384, Z: syn.SizeZ},
		}
		logger.Printf("memory backend: %dx%d synthetic terrain", syn.SizeX, syn.SizeZ)
		return memory.Generate(area, memory.GenOptions{
			Seed:         seed,
			BaseHeight:   syn.BaseHeight,
			Amplitude:    syn.Amplitude,
			Scale:        syn.Scale,
			SeaLevel:     syn.SeaLevel,
			TreePermille: syn.TreePermille,
		}), nil
	}
	if s := suggestBackend(name); s != "" {
		return nil, fmt.Errorf("unknown backend %q (did you mean %q?)", name, s)
	}
	return nil, fmt.Errorf("unknown backend %q (want one of %s)", name, strings.Join(backends, ", "))
}

// suggestBackend returns the closest known backend within two edits.
func suggestBackend(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	best, bestDist := "", 3
	for _, b := range backends {
		if d := levenshtein.ComputeDistance(name, b); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}
