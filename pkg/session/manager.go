package session

import (
	"context"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Session is one exclusive use of the capture device.
type Session struct {
	ID      string
	Kind    string
	Source  camera.Source
	Started time.Time
}

// Manager grants at most one capture session at a time. Overlapping
// requests fail fast with ErrCodeBusy instead of queueing.
type Manager struct {
	opener camera.Opener
	sem    *semaphore.Weighted
}

// NewManager creates a manager that opens opener for every session.
func NewManager(opener camera.Opener) *Manager {
	return &Manager{
		opener: opener,
		sem:    semaphore.NewWeighted(1),
	}
}

// Active reports whether a session currently holds the device.
func (m *Manager) Active() bool {
	if m.sem.TryAcquire(1) {
		m.sem.Release(1)
		return false
	}
	return true
}

// Run acquires the device, opens a frame source and calls fn with it.
// The source is closed and the device released on every exit path.
func (m *Manager) Run(ctx context.Context, kind string, fn func(ctx context.Context, s *Session) error) error {
	if !m.sem.TryAcquire(1) {
		logging.Component("session").WithField("kind", kind).Warn("capture device busy")
		return NewError(ErrCodeBusy, ErrBusy)
	}
	defer m.sem.Release(1)

	if err := ctx.Err(); err != nil {
		return NewError(ErrCodeCancelled, err)
	}

	src, err := m.opener.Open(ctx)
	if err != nil {
		return NewError(ErrCodeCapture, err)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		Source:  src,
		Started: time.Now(),
	}
	log := logging.Session("session", s.ID).WithField("kind", kind)
	log.Debug("capture session started")

	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("failed to close frame source")
		}
		log.WithField("duration", time.Since(s.Started).String()).Debug("capture session ended")
	}()

	return fn(ctx, s)
}
