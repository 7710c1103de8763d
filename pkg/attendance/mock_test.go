package attendance

import (
	"context"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

// MockGateway implements recognition.Gateway for testing
type MockGateway struct {
	DetectFunc func(frame []byte) ([]recognition.Face, error)
	LocateFunc func(frame []byte) ([]image.Rectangle, error)
	EmbedFunc  func(frame []byte, box image.Rectangle) (recognition.Descriptor, error)
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
	if m.EmbedFunc != nil {
		return m.EmbedFunc(frame, box)
	}
	return recognition.Descriptor{}, nil
}

// Frames in these tests carry a comma separated list of face labels.
// A label is an employee name or "?" for a stranger.
var faceCodes = map[string]float32{
	"Alice Smith": 1,
	"Bob":         2,
	"Carol":       3,
	"?":           99,
}

func labelsGateway() *MockGateway {
	return &MockGateway{
		DetectFunc: func(frame []byte) ([]recognition.Face, error) {
			if len(frame) == 0 {
				return nil, nil
			}
			var faces []recognition.Face
			for i, label := range strings.Split(string(frame), ",") {
				var d recognition.Descriptor
				d[0] = faceCodes[label]
				faces = append(faces, recognition.Face{
					Box:        image.Rect(i*100, 0, i*100+80, 80),
					Descriptor: d,
				})
			}
			return faces, nil
		},
	}
}

// MockMatcher implements Matcher for testing
type MockMatcher struct {
	MatchFunc func(d recognition.Descriptor, tolerance float64) (string, bool)
}

func (m *MockMatcher) Match(d recognition.Descriptor, tolerance float64) (string, bool) {
	if m.MatchFunc != nil {
		return m.MatchFunc(d, tolerance)
	}
	return "", false
}

func codesMatcher() *MockMatcher {
	return &MockMatcher{
		MatchFunc: func(d recognition.Descriptor, tolerance float64) (string, bool) {
			for name, code := range faceCodes {
				if name != "?" && d[0] == code {
					return name, true
				}
			}
			return "", false
		},
	}
}

// scriptedSource plays fixed frames, then ends, fails or blocks.
type scriptedSource struct {
	mu     sync.Mutex
	frames []string
	next   int
	err    error
	block  bool
	onRead func(n int)
	closed bool
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
		return &camera.Frame{Data: []byte(s.frames[n]), Timestamp: time.Now()}, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSource) reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func opener(src camera.Source) camera.Opener {
	return camera.OpenerFunc(func(ctx context.Context) (camera.Source, error) {
		return src, nil
	})
}

// faultyStore fails writes for selected employees.
type faultyStore struct {
	*store.Store
	failFor map[string]error
}

func (f *faultyStore) MarkAttendance(ctx context.Context, name string, checkIn time.Time, checkOut *time.Time) (*store.AttendanceRecord, error) {
	if err, ok := f.failFor[name]; ok {
		return nil, err
	}
	return f.Store.MarkAttendance(ctx, name, checkIn, checkOut)
}

func (f *faultyStore) UpdateCheckIn(ctx context.Context, name, date string, t time.Time) error {
	if err, ok := f.failFor[name]; ok {
		return err
	}
	return f.Store.UpdateCheckIn(ctx, name, date, t)
}

func (f *faultyStore) UpdateCheckout(ctx context.Context, name, date string, t time.Time) error {
	if err, ok := f.failFor[name]; ok {
		return err
	}
	return f.Store.UpdateCheckout(ctx, name, date, t)
}
