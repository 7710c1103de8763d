package enrollment

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/registry"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

func solidJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func descriptor(v float32) recognition.Descriptor {
	var d recognition.Descriptor
	d[0] = v
	return d
}

// testFrames holds the three kinds of frames the fake camera shows.
type testFrames struct {
	blank     []byte // no face
	newcomer  []byte // an unregistered face
	duplicate []byte // the face of an already registered employee
}

func newTestFrames(t *testing.T) testFrames {
	return testFrames{
		blank:     solidJPEG(t, color.Black),
		newcomer:  solidJPEG(t, color.White),
		duplicate: solidJPEG(t, color.Gray{Y: 128}),
	}
}

var faceBox = image.Rect(8, 8, 56, 56)

// MockGateway implements recognition.Gateway for testing
type MockGateway struct {
	mu         sync.Mutex
	DetectFunc func(frame []byte) ([]recognition.Face, error)
	LocateFunc func(frame []byte) ([]image.Rectangle, error)
	EmbedFunc  func(frame []byte, box image.Rectangle) (recognition.Descriptor, error)
	embeds     int
}

func (m *MockGateway) Detect(frame []byte) ([]recognition.Face, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(frame)
	}
	return nil, nil
}

func (m *MockGateway) Locate(frame []byte) ([]image.Rectangle, error) {
	if m.LocateFunc != nil {
		return m.LocateFunc(frame)
	}
	return nil, nil
}

func (m *MockGateway) Embed(frame []byte, box image.Rectangle) (recognition.Descriptor, error) {
	m.mu.Lock()
	m.embeds++
	m.mu.Unlock()
	if m.EmbedFunc != nil {
		return m.EmbedFunc(frame, box)
	}
	return descriptor(50), nil
}

// framesGateway recognizes faces by comparing frame bytes. Crops of a
// face frame always contain a face.
func framesGateway(f testFrames) *MockGateway {
	return &MockGateway{
		DetectFunc: func(frame []byte) ([]recognition.Face, error) {
			switch {
			case bytes.Equal(frame, f.blank):
				return nil, nil
			case bytes.Equal(frame, f.duplicate):
				return []recognition.Face{{Box: faceBox, Descriptor: descriptor(1)}}, nil
			default:
				return []recognition.Face{{Box: faceBox, Descriptor: descriptor(50)}}, nil
			}
		},
		LocateFunc: func(frame []byte) ([]image.Rectangle, error) {
			if bytes.Equal(frame, f.blank) {
				return nil, nil
			}
			return []image.Rectangle{faceBox}, nil
		},
	}
}

// scriptedSource plays fixed frames, then ends.
type scriptedSource struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
	block  bool
	onRead func(n int)
}

func (s *scriptedSource) Read(ctx context.Context) (*camera.Frame, error) {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()

	if s.onRead != nil {
		s.onRead(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < len(s.frames) {
		return &camera.Frame{Data: s.frames[n], Width: 64, Height: 64}, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func openerFor(src camera.Source) camera.Opener {
	return camera.OpenerFunc(func(ctx context.Context) (camera.Source, error) {
		return src, nil
	})
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

// failingRegistry wraps a registry and fails Append.
type failingRegistry struct {
	*registry.Registry
	appendErr error
}

func (f *failingRegistry) Append(name string, descriptors []recognition.Descriptor) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Registry.Append(name, descriptors)
}

// failingEmployees wraps a store and fails AddEmployee.
type failingEmployees struct {
	*store.Store
	addErr error
}

func (f *failingEmployees) AddEmployee(ctx context.Context, name string) (uint, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.Store.AddEmployee(ctx, name)
}

// countingShutter fires immediately and counts how often it was asked.
type countingShutter struct {
	waits int
}

func (m *countingShutter) Reset() {}

func (m *countingShutter) Wait(ctx context.Context) error {
	m.waits++
	return ctx.Err()
}

// racingSessions runs before ahead of the first session it grants, like a
// competing enrollment that finishes while this one waits for the camera.
type racingSessions struct {
	Sessions
	before func()
	once   sync.Once
}

func (r *racingSessions) Run(ctx context.Context, kind string, fn func(ctx context.Context, s *session.Session) error) error {
	r.once.Do(r.before)
	return r.Sessions.Run(ctx, kind, fn)
}
