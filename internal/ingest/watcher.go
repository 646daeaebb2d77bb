package ingest

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay gives the writer time to finish before the file is read.
// Extraction tools write transcripts in one pass, so a short pause is
// enough.
const settleDelay = 500 * time.Millisecond

// Watcher ingests transcript files dropped into a directory.
type Watcher struct {
	pipeline *Pipeline
	dir      string
}

func NewWatcher(pipeline *Pipeline, dir string) *Watcher {
	return &Watcher{pipeline: pipeline, dir: dir}
}

// Run ingests the directory's existing files, then blocks watching for
// new ones until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	summary, err := w.pipeline.IngestDir(ctx, w.dir)
	if err != nil {
		return err
	}
	log.Printf("watch: initial pass processed=%d skipped=%d failed=%d chunks=%d",
		summary.Processed, summary.Skipped, summary.Failed, summary.ChunksCreated)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	log.Printf("watch: watching %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.handle(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return
	}

	chunks, err := w.pipeline.IngestFile(ctx, path)
	switch {
	case err == ErrAlreadyIndexed:
		// Write events fire repeatedly for one drop; the duplicate is
		// expected, not worth logging.
	case err != nil:
		log.Printf("watch: %s: %v", filepath.Base(path), err)
	default:
		log.Printf("watch: indexed %s (%d chunks)", filepath.Base(path), chunks)
	}
}
