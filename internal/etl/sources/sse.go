package sources

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hybriddb/internal/etl"
	"hybriddb/internal/logger"
)

// ── SSE Source ──────────────────────────────────────────────
// Polls GET {base_url}/record/{batch_size}. The response body is a series
// of event frames; each "data:" line carries one JSON record.

type sseSource struct{}

func init() { etl.RegisterSource(&sseSource{}) }

func (s *sseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "sse",
		Label: "Record stream (HTTP)",
		ConfigFields: []etl.ConfigField{
			{Key: "base_url", Label: "Base URL", Type: "string", Default: "http://127.0.0.1:8001", Help: "Server exposing /record/{n}"},
			{Key: "batch_size", Label: "Batch size", Type: "int", Default: "10"},
			{Key: "interval", Label: "Poll interval", Type: "duration", Default: "1s"},
			{Key: "timeout", Label: "Request timeout", Type: "duration", Default: "5s"},
			{Key: "max_polls", Label: "Max polls", Type: "int", Default: "0", Help: "0 polls until cancelled"},
		},
	}
}

type sseConfig struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	maxPolls int
}

func parseSSEConfig(cfg etl.SourceConfig) (sseConfig, error) {
	var c sseConfig
	base := strings.TrimRight(cfgString(cfg, "base_url", "http://127.0.0.1:8001"), "/")
	batch, err := cfgInt(cfg, "batch_size", 10)
	if err != nil {
		return c, err
	}
	if batch <= 0 {
		return c, fmt.Errorf("batch_size must be positive, got %d", batch)
	}
	c.url = fmt.Sprintf("%s/record/%d", base, batch)
	if c.interval, err = cfgDuration(cfg, "interval", time.Second); err != nil {
		return c, err
	}
	if c.timeout, err = cfgDuration(cfg, "timeout", 5*time.Second); err != nil {
		return c, err
	}
	if c.maxPolls, err = cfgInt(cfg, "max_polls", 0); err != nil {
		return c, err
	}
	return c, nil
}

func (s *sseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		c, err := parseSSEConfig(cfg)
		if err != nil {
			errCh <- err
			return
		}
		client := &http.Client{Timeout: c.timeout}

		for poll := 0; c.maxPolls == 0 || poll < c.maxPolls; poll++ {
			if poll > 0 {
				select {
				case <-time.After(c.interval):
				case <-ctx.Done():
					return
				}
			}
			records, err := fetchBatch(ctx, client, c.url)
			if err != nil {
				if ctx.Err() == nil {
					errCh <- err
				}
				return
			}
			for _, rec := range records {
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

func fetchBatch(ctx context.Context, client *http.Client, url string) ([]etl.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return ParseEventStream(resp.Body)
}

// ParseEventStream extracts the JSON record of every "data:" line in r.
// Lines that are not valid JSON objects are skipped.
func ParseEventStream(r io.Reader) ([]etl.Record, error) {
	log := logger.Get("source.sse")
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []etl.Record
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		payload, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		rec, err := etl.DecodeRecord(bytes.TrimSpace(payload))
		if err != nil {
			log.Debug().Err(err).Msg("skipping malformed data line")
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("read event stream: %w", err)
	}
	return records, nil
}
