// Package gdmc talks to the GDMC HTTP interface mod running inside a
// Minecraft instance.
package gdmc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"cabincraft.ai/internal/terrain"
)

const DefaultHost = "http://localhost:9000"

type Config struct {
	Host      string
	Timeout   time.Duration
	BatchSize int
	// Gzip compresses PUT bodies. Responses are always accepted gzipped.
	Gzip   bool
	Logger *log.Logger
}

type Client struct {
	cfg        Config
	base       string
	httpClient *http.Client

	pending []placement
	sent    int
	changed int
}

type placement struct {
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Z     int               `json:"z"`
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
}

func New(cfg Config) (*Client, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if !strings.HasPrefix(cfg.Host, "http://") && !strings.HasPrefix(cfg.Host, "https://") {
		cfg.Host = "http://" + cfg.Host
	}
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid host: %s", cfg.Host)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		base:       strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pending:    make([]placement, 0, cfg.BatchSize),
	}, nil
}

func (c *Client) Host() string { return c.base }

// Sent is the number of placements delivered; Changed is how many the server
// reported as actually altering the world.
func (c *Client) Sent() int    { return c.sent }
func (c *Client) Changed() int { return c.changed }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/version", nil)
	return err
}

type buildAreaV1 struct {
	XFrom int `json:"xFrom"`
	YFrom int `json:"yFrom"`
	ZFrom int `json:"zFrom"`
	XTo   int `json:"xTo"`
	YTo   int `json:"yTo"`
	ZTo   int `json:"zTo"`
}

func (c *Client) BuildArea(ctx context.Context) (terrain.Box, error) {
	body, err := c.get(ctx, "/buildarea", nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return terrain.Box{}, fmt.Errorf("%w: %s", terrain.ErrNoBuildArea, se.Body)
		}
		return terrain.Box{}, err
	}
	var ba buildAreaV1
	if err := json.Unmarshal(body, &ba); err != nil {
		return terrain.Box{}, fmt.Errorf("decode build area: %w", err)
	}
	return terrain.BoxBetween(
		terrain.Vec3{X: ba.XFrom, Y: ba.YFrom, Z: ba.ZFrom},
		terrain.Vec3{X: ba.XTo, Y: ba.YTo, Z: ba.ZTo},
	), nil
}

func (c *Client) HeightGrid(ctx context.Context, rect terrain.Rect, kind terrain.HeightmapKind) (*terrain.HeightGrid, error) {
	q := url.Values{}
	q.Set("type", string(kind))
	q.Set("x", strconv.Itoa(rect.X))
	q.Set("z", strconv.Itoa(rect.Z))
	q.Set("dx", strconv.Itoa(rect.W))
	q.Set("dz", strconv.Itoa(rect.D))
	body, err := c.get(ctx, "/heightmap", q)
	if err != nil {
		return nil, err
	}
	var cols [][]int
	if err := json.Unmarshal(body, &cols); err != nil {
		return nil, fmt.Errorf("decode heightmap %s: %w", kind, err)
	}
	return terrain.NewHeightGrid(rect, kind, cols)
}

type blockV1 struct {
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Z     int               `json:"z"`
}

func (c *Client) Block(ctx context.Context, pos terrain.Vec3) (terrain.Block, error) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(pos.X))
	q.Set("y", strconv.Itoa(pos.Y))
	q.Set("z", strconv.Itoa(pos.Z))
	q.Set("includeState", "true")
	body, err := c.get(ctx, "/blocks", q)
	if err != nil {
		return terrain.Block{}, err
	}
	var out []blockV1
	if err := json.Unmarshal(body, &out); err != nil {
		return terrain.Block{}, fmt.Errorf("decode block %s: %w", pos, err)
	}
	if len(out) == 0 {
		return terrain.Block{}, fmt.Errorf("block %s: empty response", pos)
	}
	b := terrain.Block{ID: terrain.NormalizeID(out[0].ID)}
	if len(out[0].State) > 0 {
		b.State = out[0].State
	}
	return b, nil
}

// SetBlock queues a placement; a full batch is sent immediately.
func (c *Client) SetBlock(ctx context.Context, pos terrain.Vec3, b terrain.Block) error {
	c.pending = append(c.pending, placement{X: pos.X, Y: pos.Y, Z: pos.Z, ID: b.ID, State: b.State})
	if len(c.pending) >= c.cfg.BatchSize {
		return c.Flush(ctx)
	}
	return nil
}

type placeResultV1 struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

func (c *Client) Flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	buf, err := json.Marshal(c.pending)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("content-type", "application/json")
	if c.cfg.Gzip {
		var zb bytes.Buffer
		zw := gzip.NewWriter(&zb)
		if _, err := zw.Write(buf); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		buf = zb.Bytes()
		header.Set("content-encoding", "gzip")
	}

	body, err := c.do(ctx, http.MethodPut, "/blocks", nil, header, buf)
	if err != nil {
		return fmt.Errorf("place %d blocks: %w", len(c.pending), err)
	}
	var results []placeResultV1
	if err := json.Unmarshal(body, &results); err != nil {
		return fmt.Errorf("decode placement results: %w", err)
	}
	n := len(c.pending)
	c.pending = c.pending[:0]
	c.sent += n
	var firstErr string
	for _, r := range results {
		if r.Status == 1 {
			c.changed++
		} else if r.Message != "" && firstErr == "" {
			firstErr = r.Message
		}
	}
	if firstErr != "" {
		return fmt.Errorf("%w: place blocks: %s", terrain.ErrProvider, firstErr)
	}
	c.printf("flushed %d blocks", n)
	return nil
}

// StatusError is a non-2xx response. It matches terrain.ErrProvider.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return terrain.ErrProvider }

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, header http.Header, body []byte) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("accept-encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", terrain.ErrUnreachable, c.base, err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("content-encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: gzip: %w", method, path, err)
		}
		defer zr.Close()
		r = zr
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return out, nil
}

func (c *Client) printf(format string, args ...any) {
	if c != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}
