package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReplaySource plays JPEG files from a directory in name order and then
// reports io.EOF.
type ReplaySource struct {
	dir      string
	files    []string
	interval time.Duration

	mu     sync.Mutex
	next   int
	closed bool
}

// NewReplaySource lists the JPEG files in dir. interval paces reads to
// mimic a camera; zero returns frames as fast as they are requested.
func NewReplaySource(dir string, interval time.Duration) (*ReplaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list replay directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	return &ReplaySource{dir: dir, files: files, interval: interval}, nil
}

// Len returns the number of frames in the replay.
func (r *ReplaySource) Len() int {
	return len(r.files)
}

// Read returns the next frame from the directory.
func (r *ReplaySource) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrCameraNotOpen
	}
	if r.next >= len(r.files) {
		r.mu.Unlock()
		return nil, io.EOF
	}
	path := r.files[r.next]
	r.next++
	r.mu.Unlock()

	if r.interval > 0 {
		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay frame: %w", err)
	}

	frame := &Frame{Data: data, Timestamp: time.Now()}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width, frame.Height = cfg.Width, cfg.Height
	}
	return frame, nil
}

// Close marks the source closed.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
