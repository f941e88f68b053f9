package tuning

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	Site      Site      `yaml:"site" json:"site"`
	House     House     `yaml:"house" json:"house"`
	GDMC      GDMC      `yaml:"gdmc" json:"gdmc"`
	Synthetic Synthetic `yaml:"synthetic" json:"synthetic"`
}

type Site struct {
	CandidateSize     int     `yaml:"candidate_size" json:"candidate_size"`
	ScanStep          int     `yaml:"scan_step" json:"scan_step"`
	VarianceThreshold float64 `yaml:"variance_threshold" json:"variance_threshold"`
	ClearCeiling      int     `yaml:"clear_ceiling" json:"clear_ceiling"`
}

type House struct {
	Lengths     []int `yaml:"lengths" json:"lengths"`
	WallHeights []int `yaml:"wall_heights" json:"wall_heights"`
	Width       int   `yaml:"width" json:"width"`
	Envelope    int   `yaml:"envelope" json:"envelope"`
}

type GDMC struct {
	Host      string `yaml:"host" json:"host"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Gzip      bool   `yaml:"gzip" json:"gzip"`
}

// Synthetic shapes the in-memory world used by dry runs.
type Synthetic struct {
	SizeX        int     `yaml:"size_x" json:"size_x"`
	SizeZ        int     `yaml:"size_z" json:"size_z"`
	BaseHeight   int     `yaml:"base_height" json:"base_height"`
	Amplitude    float64 `yaml:"amplitude" json:"amplitude"`
	Scale        float64 `yaml:"scale" json:"scale"`
	SeaLevel     int     `yaml:"sea_level" json:"sea_level"`
	TreePermille int     `yaml:"tree_permille" json:"tree_permille"`
}

func Defaults() Tuning {
	return Tuning{
		Site: Site{
			CandidateSize:     15,
			ScanStep:          15,
			VarianceThreshold: 10.0,
			ClearCeiling:      320,
		},
		House: House{
			Lengths:     []int{6, 7},
			WallHeights: []int{5, 7},
			Width:       9,
			Envelope:    15,
		},
		GDMC: GDMC{
			Host:      "http://localhost:9000",
			TimeoutMs: 30000,
			BatchSize: 4096,
			Gzip:      true,
		},
		Synthetic: Synthetic{
			SizeX:        64,
			SizeZ:        64,
			BaseHeight:   66,
			Amplitude:    6,
			Scale:        0.035,
			SeaLevel:     62,
			TreePermille: 18,
		},
	}
}

// Load reads tuning.yaml over the defaults. An empty path or a missing file
// yields the defaults. The document is checked against the embedded schema
// before decoding.
func Load(path string) (Tuning, error) {
	t := Defaults()
	path = strings.TrimSpace(path)
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := Validate(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks a YAML document against the tuning schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON-shaped values.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := jsonschema.CompileString("tuning.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}

// Fetch resolves src to a local file. Plain paths are returned unchanged;
// anything else (https://, git::, s3::, ...) is downloaded into dir.
func Fetch(ctx context.Context, src, dir string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" || isLocal(src) {
		return src, nil
	}
	dst := filepath.Join(dir, "tuning.yaml")
	if err := getter.GetFile(dst, src, getter.WithContext(ctx)); err != nil {
		return "", fmt.Errorf("fetch tuning %s: %w", src, err)
	}
	return dst, nil
}

func isLocal(src string) bool {
	return !strings.Contains(src, "::") && !strings.Contains(src, "://")
}
