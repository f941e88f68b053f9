package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"cabincraft.ai/internal/terrain"
)

type Catalogs struct {
	Materials Materials

	// Digest is the sha256 of the catalog source (the canonical JSON of the
	// defaults when no file is given).
	Digest string
	Source string

	// Palette is every distinct block id the catalogs can emit, sorted.
	Palette       []string
	PaletteDigest string
}

// Materials are the small fixed catalogs the cabin is drawn from.
type Materials struct {
	FloorWoods  []string `json:"floor_woods"`
	RoofStairs  []string `json:"roof_stairs"`
	RidgeSlabs  []string `json:"ridge_slabs"`
	Beds        []string `json:"beds"`
	Furnishings []string `json:"furnishings"`

	Wall   string `json:"wall"`
	Post   string `json:"post"`
	Door   string `json:"door"`
	Window string `json:"window"`
	Light  string `json:"light"`
	Filler string `json:"filler"`
}

func DefaultMaterials() Materials {
	return Materials{
		FloorWoods:  []string{"spruce_planks", "oak_planks", "birch_planks", "dark_oak_planks"},
		RoofStairs:  []string{"deepslate_brick_stairs", "polished_diorite_stairs", "brick_stairs"},
		RidgeSlabs:  []string{"polished_diorite_slab", "deepslate_brick_slab"},
		Beds:        []string{"white_bed", "black_bed", "red_bed", "blue_bed", "lime_bed"},
		Furnishings: []string{"crafting_table", "furnace", "chest"},

		Wall:   "spruce_planks",
		Post:   "spruce_log",
		Door:   "dark_oak_door",
		Window: "glass",
		Light:  "lantern",
		Filler: "dirt",
	}
}

func Defaults() *Catalogs {
	m := DefaultMaterials()
	raw, _ := json.Marshal(m)
	c, _ := build(m, raw, "defaults")
	return c
}

// Load reads a materials file. An empty path or a missing file yields the
// defaults; fields omitted from the file keep their default value.
func Load(path string) (*Catalogs, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Defaults(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, err
	}
	m := DefaultMaterials()
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("catalogs.json: %w", err)
	}
	return build(m, raw, path)
}

func build(m Materials, raw []byte, source string) (*Catalogs, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("catalogs.json: %w", err)
	}
	c := &Catalogs{Materials: m, Digest: sha256Hex(raw), Source: source}

	seen := map[string]bool{}
	add := func(ids ...string) {
		for _, id := range ids {
			seen[terrain.NormalizeID(id)] = true
		}
	}
	add(m.FloorWoods...)
	add(m.RoofStairs...)
	add(m.RidgeSlabs...)
	add(m.Beds...)
	add(m.Furnishings...)
	add(m.Wall, m.Post, m.Door, m.Window, m.Light, m.Filler, "air")
	for id := range seen {
		c.Palette = append(c.Palette, id)
	}
	sort.Strings(c.Palette)
	palJSON, _ := json.Marshal(c.Palette)
	c.PaletteDigest = sha256Hex(palJSON)
	return c, nil
}

func (m Materials) Validate() error {
	lists := []struct {
		name string
		ids  []string
	}{
		{"floor_woods", m.FloorWoods},
		{"roof_stairs", m.RoofStairs},
		{"ridge_slabs", m.RidgeSlabs},
		{"beds", m.Beds},
		{"furnishings", m.Furnishings},
	}
	for _, l := range lists {
		if len(l.ids) == 0 {
			return fmt.Errorf("%s: empty", l.name)
		}
		for _, id := range l.ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%s: empty id", l.name)
			}
		}
	}
	singles := map[string]string{
		"wall": m.Wall, "post": m.Post, "door": m.Door,
		"window": m.Window, "light": m.Light, "filler": m.Filler,
	}
	for name, id := range singles {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s: empty id", name)
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
