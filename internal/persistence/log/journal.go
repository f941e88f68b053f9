package log

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"cabincraft.ai/internal/terrain"
)

// EditEntry is one block write as seen by the provider.
type EditEntry struct {
	Seq   int               `json:"seq"`
	RunID string            `json:"run_id,omitempty"`
	Stage string            `json:"stage"`
	Pos   [3]int            `json:"pos"`
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
}

// Journal records every SetBlock passing through it before forwarding to the
// wrapped provider.
type Journal struct {
	terrain.Provider

	w     *JSONLZstdWriter
	runID string
	stage string
	seq   int
}

func NewJournal(p terrain.Provider, path, runID string) *Journal {
	return &Journal{Provider: p, w: NewJSONLZstdWriter(path), runID: runID}
}

// SetStage tags subsequent entries.
func (j *Journal) SetStage(stage string) { j.stage = stage }

func (j *Journal) Entries() int { return j.seq }

func (j *Journal) SetBlock(ctx context.Context, pos terrain.Vec3, b terrain.Block) error {
	j.seq++
	e := EditEntry{
		Seq:   j.seq,
		RunID: j.runID,
		Stage: j.stage,
		Pos:   [3]int{pos.X, pos.Y, pos.Z},
		ID:    b.ID,
		State: b.State,
	}
	if err := j.w.Write(e); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return j.Provider.SetBlock(ctx, pos, b)
}

func (j *Journal) Close() error { return j.w.Close() }

// ReadJournal decodes every entry in a journal file.
func ReadJournal(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []EditEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e EditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("journal line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
