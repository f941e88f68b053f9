package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cabincraft.ai/internal/persistence/indexdb"
	persistlog "cabincraft.ai/internal/persistence/log"
	"cabincraft.ai/internal/protocol"
	"cabincraft.ai/internal/sim/cabin"
	"cabincraft.ai/internal/sim/catalogs"
	"cabincraft.ai/internal/sim/tuning"
	"cabincraft.ai/internal/terrain"
	"cabincraft.ai/internal/transport/observer"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		backendName  = flag.String("backend", "gdmc", "terrain backend: gdmc (live Minecraft) or memory (synthetic dry run)")
		host         = flag.String("host", "", "GDMC HTTP interface address (default: tuning gdmc.host)")
		tuningSrc    = flag.String("tuning", "./configs/tuning.yaml", "tuning.yaml path or go-getter source (https://, git::, s3::)")
		catalogsPath = flag.String("catalogs", "./configs/catalogs.json", "material catalogs (optional)")
		seed         = flag.Int64("seed", 0, "random seed (0: time based)")

		journalPath = flag.String("journal", "", "append every block write to this zstd JSONL journal (empty to disable)")
		indexPath   = flag.String("index", "", "sqlite run index (empty to disable)")
		history     = flag.Int("history", 0, "print the last N runs from -index and exit")

		observeAddr   = flag.String("observe", "", "serve stage events on ws://<addr>/v1/events (empty to disable)")
		observeLinger = flag.Duration("observe_linger", 0, "keep the observer endpoint up this long after the run")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[cabin] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	// Config.
	tmp, err := os.MkdirTemp("", "cabin-tuning-")
	if err != nil {
		logger.Printf("temp dir: %v", err)
		return 1
	}
	defer os.RemoveAll(tmp)
	tp, err := tuning.Fetch(ctx, *tuningSrc, tmp)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Printf("load tuning: %v", err)
		return 1
	}
	if h := strings.TrimSpace(*host); h != "" {
		tune.GDMC.Host = h
	}
	cats, err := catalogs.Load(*catalogsPath)
	if err != nil {
		logger.Printf("load catalogs: %v", err)
		return 1
	}
	opts := cabin.OptionsFromTuning(tune, cats)

	// Optional run index (read model only; the world stays the source of truth).
	var idx *indexdb.SQLiteIndex
	var tuneDigest string
	if p := strings.TrimSpace(*indexPath); p != "" {
		idx, err = indexdb.OpenSQLite(p)
		if err != nil {
			logger.Printf("open index: %v", err)
			return 1
		}
		defer idx.Close()
		if tuneDigest, err = idx.UpsertCatalogs(ctx, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}
	if *history > 0 {
		if idx == nil {
			logger.Printf("-history needs -index")
			return 2
		}
		return printHistory(ctx, idx, *history)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	started := time.Now().UTC()
	runID := fmt.Sprintf("run_%s_%d", started.Format("20060102T150405"), *seed&0xffff)

	provider, err := newProvider(*backendName, tune, *seed, logger)
	if err != nil {
		logger.Printf("%v", err)
		return 2
	}
	var world terrain.Provider = provider
	if p := strings.TrimSpace(*journalPath); p != "" {
		if dir := filepath.Dir(p); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		j := persistlog.NewJournal(provider, p, runID)
		defer func() {
			if err := j.Close(); err != nil {
				logger.Printf("journal: %v", err)
			}
			logger.Printf("journal: %d writes -> %s", j.Entries(), p)
		}()
		world = j
	}

	env := cabin.Env{
		Terrain: world,
		Rand:    rand.New(rand.NewSource(*seed)),
		Log:     logger,
		RunID:   runID,
	}
	if addr := strings.TrimSpace(*observeAddr); addr != "" {
		hub, stop, err := serveObserver(addr, logger)
		if err != nil {
			logger.Printf("observer: %v", err)
			return 1
		}
		defer stop(*observeLinger)
		env.Events = hub
	}

	logger.Printf("run %s: backend=%s seed=%d", runID, *backendName, *seed)
	res, runErr := cabin.Run(ctx, env, opts)

	if idx != nil {
		row := indexRow(res, runErr)
		row.RunID = runID
		row.Seed = *seed
		row.Backend = *backendName
		row.StartedAt = started
		row.FinishedAt = time.Now().UTC()
		row.TuningDigest = tuneDigest
		row.CatalogDigest = cats.Digest
		if err := idx.RecordRun(context.Background(), row); err != nil {
			logger.Printf("index: record run: %v", err)
		}
	}

	if runErr != nil {
		fmt.Println(guidance(runErr, res, tune.GDMC.Host))
		return 1
	}
	fmt.Printf("Your log cabin has successfully been built at X:%d and Z:%d with an average height of %d\n",
		res.Site.X, res.Site.Z, res.Flattened.Target)
	return 0
}

// guidance turns a failed run into the message shown to the player.
func guidance(err error, res cabin.Result, host string) string {
	switch protocol.CodeOf(err) {
	case protocol.ErrUnreachable:
		return fmt.Sprintf("Error: Could not connect to the GDMC HTTP interface at %s!\n"+
			"To build a cabin you need a backend that provides the GDMC HTTP interface,\n"+
			"for example Minecraft running with the GDMC HTTP mod installed.\n"+
			"Use -backend memory for a dry run on synthetic terrain.", host)
	case protocol.ErrNoBuildArea:
		return "Error: failed to get the build area!\n" +
			"Make sure to set the build area with the /setbuildarea command in-game.\n" +
			"For example: /setbuildarea ~0 0 ~0 ~64 200 ~64"
	case protocol.ErrNoSite:
		return "No suitable building area found due to too much water. Please try a new build area"
	case protocol.ErrSiteUneven:
		return fmt.Sprintf("No optimal build area found. Area with lowest variance: %g, exceeds acceptable threshold. Please try a new build area", res.Scan.Best.Score)
	case protocol.ErrBadConfig:
		return fmt.Sprintf("Error: invalid configuration: %v", err)
	case protocol.ErrCanceled:
		return "Interrupted."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func indexRow(res cabin.Result, err error) indexdb.Run {
	row := indexdb.Run{Code: protocol.CodeOf(err)}
	if err != nil {
		row.Message = err.Error()
	}
	if !res.BuildArea.Empty() {
		o, l := res.BuildArea.Origin, res.BuildArea.Last()
		row.AreaFrom = [3]int{o.X, o.Y, o.Z}
		row.AreaTo = [3]int{l.X, l.Y, l.Z}
	}
	if !res.Site.Rect.Empty() {
		row.HasSite = true
		row.SiteX, row.SiteZ = res.Site.X, res.Site.Z
		row.Variance = res.Site.Score
		row.Target = res.Flattened.Target
		row.Floor = res.Flattened.Floor.ID
		row.Cleared = res.Flattened.ClearedBlocks
		row.Filled = res.Flattened.FilledBlocks
	}
	if res.Plan.Length > 0 {
		o := res.Plan.Area.Origin
		row.HasHouse = true
		row.Axis = res.Plan.Axis.String()
		row.Length = res.Plan.Length
		row.Width = res.Plan.Width
		row.WallHeight = res.Plan.WallHeight
		row.Origin = [3]int{o.X, o.Y, o.Z}
		row.Writes = res.Report.Writes
	}
	return row
}

func printHistory(ctx context.Context, idx *indexdb.SQLiteIndex, n int) int {
	runs, err := idx.RecentRuns(ctx, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	for _, r := range runs {
		outcome := "ok"
		if !r.OK() {
			outcome = r.Code
		}
		line := fmt.Sprintf("%s  %-28s %-6s seed=%-20d %-16s", r.StartedAt.Format(time.RFC3339), r.RunID, r.Backend, r.Seed, outcome)
		if r.HasSite {
			line += fmt.Sprintf(" site=(%d,%d) var=%.3f y=%d", r.SiteX, r.SiteZ, r.Variance, r.Target)
		}
		if r.HasHouse {
			line += fmt.Sprintf(" cabin=%s %dx%dx%d", r.Axis, r.Length, r.Width, r.WallHeight)
		}
		fmt.Println(line)
	}
	return 0
}

// serveObserver starts the stage event endpoint. stop keeps it up for
// linger (or until interrupted), then disconnects observers.
func serveObserver(addr string, logger *log.Logger) (*observer.Hub, func(linger time.Duration), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	hub := observer.NewHub(logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", hub.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("observer serve: %v", err)
		}
	}()
	logger.Printf("observer listening on ws://%s/v1/events", ln.Addr())

	stop := func(linger time.Duration) {
		if linger > 0 {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-time.After(linger):
			case <-sig:
			}
			signal.Stop(sig)
		}
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return hub, stop, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
