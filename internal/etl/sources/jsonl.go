package sources

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"hybriddb/internal/etl"
	"hybriddb/internal/logger"
)

// ── JSON Lines Source ───────────────────────────────────────
// Reads one JSON object per line from a local file. With follow set, it
// keeps the file open and reads appended lines as they are written.

type jsonlSource struct{}

func init() { etl.RegisterSource(&jsonlSource{}) }

func (s *jsonlSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "jsonl",
		Label: "JSON Lines file",
		ConfigFields: []etl.ConfigField{
			{Key: "path", Label: "File Path", Type: "string", Required: true, Help: "Path to a file with one JSON object per line"},
			{Key: "follow", Label: "Follow", Type: "bool", Default: "false", Help: "Keep reading lines appended to the file"},
		},
	}
}

func (s *jsonlSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := readJSONLines(ctx, cfg, out); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func readJSONLines(ctx context.Context, cfg etl.SourceConfig, out chan<- etl.Record) error {
	log := logger.Get("source.jsonl")
	path := cfgString(cfg, "path", "")
	if path == "" {
		return fmt.Errorf("path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var changed <-chan struct{}
	if cfgBool(cfg, "follow") {
		ch, stop, err := watchFile(ctx, path)
		if err != nil {
			return err
		}
		defer stop()
		changed = ch
	}

	br := bufio.NewReader(f)
	var pending []byte
	lineNo := 0
	for {
		chunk, err := br.ReadBytes('\n')
		pending = append(pending, chunk...)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read file: %w", err)
		}

		if err == nil || (changed == nil && len(pending) > 0) {
			lineNo++
			line := bytes.TrimSpace(pending)
			pending = pending[:0]
			if len(line) > 0 {
				rec, derr := etl.DecodeRecord(line)
				if derr != nil {
					log.Warn().Err(derr).Int("line", lineNo).Msg("skipping malformed line")
				} else {
					select {
					case out <- rec:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			if err == nil {
				continue
			}
		}

		// at EOF
		if changed == nil {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watchFile signals on the returned channel whenever path is written.
// fsnotify watches the parent directory so the file may be recreated.
func watchFile(ctx context.Context, path string) (<-chan struct{}, func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("bad path %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("watch dir: %w", err)
	}

	log := logger.Get("source.jsonl")
	changed := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if name, _ := filepath.Abs(event.Name); name != abs {
					continue
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", abs).Msg("watcher error")
			}
		}
	}()
	return changed, func() { watcher.Close() }, nil
}
