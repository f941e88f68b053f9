package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cabincraft.ai/internal/sim/catalogs"
	"cabincraft.ai/internal/sim/tuning"
)

// timeLayout is fixed width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteIndex is a queryable history of cabin runs. The world itself stays
// the source of truth; the index only records what each run decided.
type SQLiteIndex struct {
	db *sql.DB
}

// Run is one row of the runs table. Site and house fields are only
// meaningful when HasSite / HasHouse are set.
type Run struct {
	RunID      string
	Seed       int64
	Backend    string
	StartedAt  time.Time
	FinishedAt time.Time
	Code       string
	Message    string

	AreaFrom [3]int
	AreaTo   [3]int

	HasSite  bool
	SiteX    int
	SiteZ    int
	Variance float64
	Target   int
	Floor    string
	Cleared  int
	Filled   int

	HasHouse   bool
	Axis       string
	Length     int
	Width      int
	WallHeight int
	Origin     [3]int
	Writes     int

	TuningDigest  string
	CatalogDigest string
}

func (r Run) OK() bool { return r.Code == "" }

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			backend TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			area_json TEXT NOT NULL,
			has_site INTEGER NOT NULL,
			site_x INTEGER NOT NULL,
			site_z INTEGER NOT NULL,
			variance REAL NOT NULL,
			target INTEGER NOT NULL,
			floor TEXT NOT NULL,
			cleared INTEGER NOT NULL,
			filled INTEGER NOT NULL,
			has_house INTEGER NOT NULL,
			axis TEXT NOT NULL,
			length INTEGER NOT NULL,
			width INTEGER NOT NULL,
			wall_height INTEGER NOT NULL,
			origin_json TEXT NOT NULL,
			writes INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			catalog_digest TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_code ON runs(code);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertCatalogs stores the applied catalogs and tuning as canonical JSON and
// returns the tuning digest.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) (string, error) {
	tuneJSON, _ := json.Marshal(tune)
	sum := sha256.Sum256(tuneJSON)
	tuneDigest := hex.EncodeToString(sum[:])
	if s == nil {
		return tuneDigest, nil
	}
	now := time.Now().UTC().Format(timeLayout)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	rows := []kv{{name: "tuning", digest: tuneDigest, json: tuneJSON}}
	if cats != nil {
		if b, _ := json.Marshal(cats.Materials); len(b) > 0 {
			rows = append(rows, kv{name: "materials", digest: cats.Digest, json: b})
		}
		if b, _ := json.Marshal(cats.Palette); len(b) > 0 {
			rows = append(rows, kv{name: "palette", digest: cats.PaletteDigest, json: b})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.json), now); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return tuneDigest, nil
}

func (s *SQLiteIndex) RecordRun(ctx context.Context, r Run) error {
	if s == nil {
		return nil
	}
	area, _ := json.Marshal([2][3]int{r.AreaFrom, r.AreaTo})
	origin, _ := json.Marshal(r.Origin)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs(
		run_id,seed,backend,started_at,finished_at,code,message,area_json,
		has_site,site_x,site_z,variance,target,floor,cleared,filled,
		has_house,axis,length,width,wall_height,origin_json,writes,
		tuning_digest,catalog_digest
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Seed, r.Backend,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.Code, r.Message, string(area),
		boolInt(r.HasSite), r.SiteX, r.SiteZ, r.Variance, r.Target, r.Floor, r.Cleared, r.Filled,
		boolInt(r.HasHouse), r.Axis, r.Length, r.Width, r.WallHeight, string(origin), r.Writes,
		r.TuningDigest, r.CatalogDigest,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// RecentRuns returns up to n runs, newest first.
func (s *SQLiteIndex) RecentRuns(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		run_id,seed,backend,started_at,finished_at,code,message,area_json,
		has_site,site_x,site_z,variance,target,floor,cleared,filled,
		has_house,axis,length,width,wall_height,origin_json,writes,
		tuning_digest,catalog_digest
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, ended    string
			area, origin      string
			hasSite, hasHouse int
		)
		if err := rows.Scan(
			&r.RunID, &r.Seed, &r.Backend, &started, &ended, &r.Code, &r.Message, &area,
			&hasSite, &r.SiteX, &r.SiteZ, &r.Variance, &r.Target, &r.Floor, &r.Cleared, &r.Filled,
			&hasHouse, &r.Axis, &r.Length, &r.Width, &r.WallHeight, &origin, &r.Writes,
			&r.TuningDigest, &r.CatalogDigest,
		); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, ended)
		var box [2][3]int
		_ = json.Unmarshal([]byte(area), &box)
		r.AreaFrom, r.AreaTo = box[0], box[1]
		_ = json.Unmarshal([]byte(origin), &r.Origin)
		r.HasSite = hasSite != 0
		r.HasHouse = hasHouse != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
