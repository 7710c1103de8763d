package attendance

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
)

// UnknownIdentity labels faces that match no enrolled employee.
const UnknownIdentity = "Unknown"

// Sessions grants exclusive capture sessions.
type Sessions interface {
	Run(ctx context.Context, kind string, fn func(ctx context.Context, s *session.Session) error) error
}

// Matcher resolves a descriptor to an enrolled identity.
type Matcher interface {
	Match(d recognition.Descriptor, tolerance float64) (string, bool)
}

// Options tunes an attendance scan.
type Options struct {
	ScanTimeout time.Duration
	Tolerance   float64

	// StopOnStable ends the scan once the same non-empty set of
	// recognized employees was seen in StableFrames consecutive frames.
	StopOnStable bool
	StableFrames int
}

// ScanResult is the outcome of one attendance scan.
type ScanResult struct {
	SessionID    string        `json:"session_id"`
	Action       Action        `json:"action"`
	Frames       int           `json:"frames"`
	FacesSeen    int           `json:"faces_seen"`
	UnknownCount int           `json:"unknown_count"`
	Recognized   []string      `json:"recognized"`
	Outcomes     []Outcome     `json:"outcomes"`
	Duration     time.Duration `json:"duration"`
}

// Controller scans the camera and applies the ledger to every
// recognized employee.
type Controller struct {
	sessions Sessions
	gateway  recognition.Gateway
	matcher  Matcher
	ledger   *Ledger
	metrics  *metrics.Metrics
	opts     Options

	// stop ends the running scan early and keeps what it has seen.
	stop chan struct{}
}

// NewController creates an attendance controller.
func NewController(sessions Sessions, gateway recognition.Gateway, matcher Matcher, ledger *Ledger, opts Options) *Controller {
	if opts.StableFrames < 1 {
		opts.StableFrames = 1
	}
	return &Controller{
		sessions: sessions,
		gateway:  gateway,
		matcher:  matcher,
		ledger:   ledger,
		opts:     opts,
		stop:     make(chan struct{}, 1),
	}
}

// SetMetrics installs a metrics recorder.
func (c *Controller) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Stop ends the running scan as if its window had closed. Attendance is
// still applied for the employees seen so far. Cancelling the context
// passed to MarkAttendance aborts the scan without writing anything.
func (c *Controller) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// scan accumulates recognition results across frames.
type scan struct {
	frames    int
	faces     int
	unknown   int
	seen      map[string]bool
	order     []string
	lastSet   string
	stableRun int
}

// observe records one frame's identities and returns the number of
// consecutive frames that have shown the same recognized set.
func (s *scan) observe(names []string) int {
	s.frames++
	s.faces += len(names)

	var known []string
	for _, n := range names {
		if n == UnknownIdentity {
			s.unknown++
			continue
		}
		known = append(known, n)
		if !s.seen[n] {
			s.seen[n] = true
			s.order = append(s.order, n)
		}
	}

	sort.Strings(known)
	set := strings.Join(known, "\x00")
	if len(known) > 0 && set == s.lastSet {
		s.stableRun++
	} else if len(known) > 0 {
		s.stableRun = 1
	} else {
		s.stableRun = 0
	}
	s.lastSet = set
	return s.stableRun
}

// MarkAttendance runs one scan and applies action to every recognized
// employee. Per-employee failures are reported in the outcomes; the
// returned error is a *session.Error for scan-level failures.
func (c *Controller) MarkAttendance(ctx context.Context, action Action) (*ScanResult, error) {
	if action != ActionCheckIn && action != ActionCheckOut {
		return nil, session.Validation("Unknown attendance action")
	}

	result := &ScanResult{Action: action}
	st := &scan{seen: make(map[string]bool)}

	err := c.sessions.Run(ctx, metrics.KindAttendance, func(ctx context.Context, s *session.Session) error {
		result.SessionID = s.ID
		defer func() {
			result.Duration = time.Since(s.Started)
			c.metrics.RecordScanDuration(metrics.KindAttendance, result.Duration)
		}()
		return c.scan(ctx, s, st)
	})
	if err != nil {
		return nil, err
	}

	result.Frames = st.frames
	result.FacesSeen = st.faces
	result.UnknownCount = st.unknown
	result.Recognized = st.order

	if st.faces == 0 {
		return nil, session.NewError(session.ErrCodeNoFace, nil)
	}

	for _, name := range st.order {
		out := c.ledger.Apply(ctx, action, name)
		c.metrics.RecordAttendanceOutcome(string(action), string(out.Status))
		result.Outcomes = append(result.Outcomes, out)
	}
	return result, nil
}

func (c *Controller) scan(ctx context.Context, s *session.Session, st *scan) error {
	log := logging.Session("attendance", s.ID)

	// A stop requested before this scan started belongs to no scan.
	select {
	case <-c.stop:
	default:
	}

	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			log.Debug("scan stopped by operator")
			cancel()
		case <-scanCtx.Done():
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return session.NewError(session.ErrCodeCancelled, err)
		}

		frame, err := s.Source.Read(scanCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return session.NewError(session.ErrCodeCancelled, ctx.Err())
			case scanCtx.Err() != nil, errors.Is(err, io.EOF):
				log.WithFields(logging.Fields{
					"frames": st.frames,
					"faces":  st.faces,
				}).Debug("scan window closed")
				return nil
			default:
				log.WithError(err).Warn("frame read failed")
				return session.NewError(session.ErrCodeCapture, err)
			}
		}

		faces, err := c.gateway.Detect(frame.Data)
		if err != nil {
			return session.NewError(session.ErrCodeCapture, err)
		}
		c.metrics.RecordFrame(metrics.KindAttendance)

		names := make([]string, 0, len(faces))
		for _, f := range faces {
			name, ok := c.matcher.Match(f.Descriptor, c.opts.Tolerance)
			if !ok {
				name = UnknownIdentity
			}
			names = append(names, name)
		}

		if run := st.observe(names); c.opts.StopOnStable && run >= c.opts.StableFrames {
			log.WithField("recognized", st.order).Debug("recognition stable, ending scan")
			return nil
		}
	}
}
