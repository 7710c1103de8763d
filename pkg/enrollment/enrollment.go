// Package enrollment registers new employees from guided camera captures.
//
// An enrollment first screens the camera for a face that is already
// registered, then collects one verified face crop per angle prompt and
// finally stores the embeddings and the employee row. Any failure after
// the screen rolls back everything written so far.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

// Prompts are the angle instructions, one per sample.
var Prompts = []string{
	"Look straight",
	"Turn slightly left",
	"Turn slightly right",
	"Look up",
	"Look down",
	"Tilt head left",
	"Tilt head right",
	"Show left profile",
	"Show right profile",
	"Natural expression",
}

// Prompt returns the instruction for the 1-based sample index.
func Prompt(sample int) string {
	if sample < 1 {
		return Prompts[0]
	}
	return Prompts[(sample-1)%len(Prompts)]
}

// Sessions grants exclusive capture sessions.
type Sessions interface {
	Run(ctx context.Context, kind string, fn func(ctx context.Context, s *session.Session) error) error
}

// Registry is the known-face registry as seen by enrollment.
type Registry interface {
	Match(d recognition.Descriptor, tolerance float64) (string, bool)
	Append(name string, descriptors []recognition.Descriptor) error
	RemoveLast(name string, n int) error
}

// EmployeeStore persists employee rows.
type EmployeeStore interface {
	EmployeeExists(ctx context.Context, name string) (bool, error)
	AddEmployee(ctx context.Context, name string) (uint, error)
}

// SampleStore persists sample images.
type SampleStore interface {
	SaveSample(name string, index int, data []byte) (string, error)
	RemoveSample(path string) error
	Prune(name string) error
}

// Options tunes an enrollment.
type Options struct {
	Samples            int
	DuplicateTolerance float64
	DuplicateTimeout   time.Duration
	CaptureTimeout     time.Duration

	// MaxCaptureAttempts caps the frames read during guided capture.
	// Zero means no cap.
	MaxCaptureAttempts int
}

// Progress describes the sample currently being captured.
type Progress struct {
	Sample int    `json:"sample"`
	Total  int    `json:"total"`
	Prompt string `json:"prompt"`
}

// Result describes a completed enrollment.
type Result struct {
	SessionID  string        `json:"session_id"`
	Employee   string        `json:"employee"`
	EmployeeID uint          `json:"employee_id"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"duration"`
}

// sample is a saved, verified face crop.
type sample struct {
	path string
	data []byte
	box  image.Rectangle
}

// Controller drives enrollments.
type Controller struct {
	sessions  Sessions
	gateway   recognition.Gateway
	registry  Registry
	employees EmployeeStore
	images    SampleStore
	shutter   Shutter
	metrics   *metrics.Metrics
	onPrompt  func(Progress)
	opts      Options
}

// NewController creates an enrollment controller.
func NewController(sessions Sessions, gateway recognition.Gateway, registry Registry, employees EmployeeStore, images SampleStore, shutter Shutter, opts Options) *Controller {
	if opts.Samples < 1 {
		opts.Samples = len(Prompts)
	}
	return &Controller{
		sessions:  sessions,
		gateway:   gateway,
		registry:  registry,
		employees: employees,
		images:    images,
		shutter:   shutter,
		opts:      opts,
	}
}

// SetMetrics installs a metrics recorder.
func (c *Controller) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// OnPrompt registers a callback invoked whenever a new sample prompt starts.
func (c *Controller) OnPrompt(fn func(Progress)) {
	c.onPrompt = fn
}

// ValidateName trims name and checks that it is non-empty and made only
// of letters, digits and whitespace.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("employee name is empty")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			return "", fmt.Errorf("employee name contains %q", r)
		}
	}
	return name, nil
}

// Enroll registers name. Errors are *session.Error values.
func (c *Controller) Enroll(ctx context.Context, name string) (*Result, error) {
	result, err := c.enroll(ctx, name)
	if err != nil {
		code, _ := session.CodeOf(err)
		c.metrics.RecordEnrollment(string(code))
		return nil, err
	}
	c.metrics.RecordEnrollment("success")
	return result, nil
}

func (c *Controller) enroll(ctx context.Context, raw string) (*Result, error) {
	name, err := ValidateName(raw)
	if err != nil {
		e := session.Validation("Invalid employee name. Only letters, numbers and spaces are allowed.")
		e.Err = err
		return nil, e
	}

	if err := c.checkAvailable(ctx, name); err != nil {
		return nil, err
	}

	result := &Result{Employee: name}
	err = c.sessions.Run(ctx, metrics.KindEnrollment, func(ctx context.Context, s *session.Session) error {
		result.SessionID = s.ID
		defer func() {
			result.Duration = time.Since(s.Started)
			c.metrics.RecordScanDuration(metrics.KindEnrollment, result.Duration)
		}()

		log := logging.Session("enrollment", s.ID).WithField("employee", name)

		// Another enrollment may have taken the name while this one waited.
		if err := c.checkAvailable(ctx, name); err != nil {
			return err
		}
		log.Info("enrollment started")

		if err := c.screen(ctx, s, log); err != nil {
			return err
		}

		samples, err := c.capture(ctx, s, name, log)
		if err != nil || len(samples) < c.opts.Samples {
			c.discardSamples(name, samples, log)
			if err != nil {
				return err
			}
			log.WithField("samples", len(samples)).Warn("not enough samples captured")
			return session.NewError(session.ErrCodeInsufficientSamples,
				fmt.Errorf("captured %d of %d samples", len(samples), c.opts.Samples))
		}

		id, err := c.finalize(ctx, name, samples, log)
		if err != nil {
			return err
		}
		result.EmployeeID = id
		result.Samples = len(samples)
		log.WithField("employee_id", id).Info("enrollment completed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Controller) checkAvailable(ctx context.Context, name string) error {
	exists, err := c.employees.EmployeeExists(ctx, name)
	if err != nil {
		return session.NewError(session.ErrCodePersistence, err)
	}
	if exists {
		return alreadyExists(name, nil)
	}
	return nil
}

func alreadyExists(name string, cause error) *session.Error {
	e := session.Validation(fmt.Sprintf("Employee %q already exists", name))
	e.Err = cause
	return e
}

// readErr classifies a frame read failure for a phase bounded by phaseCtx.
// It returns nil when the phase ended normally.
func readErr(ctx, phaseCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return session.NewError(session.ErrCodeCancelled, ctx.Err())
	case phaseCtx.Err() != nil, errors.Is(err, io.EOF):
		return nil
	default:
		return session.NewError(session.ErrCodeCapture, err)
	}
}

// screen looks for the first face and rejects it if already registered.
func (c *Controller) screen(ctx context.Context, s *session.Session, log *logging.Entry) error {
	screenCtx, cancel := context.WithTimeout(ctx, c.opts.DuplicateTimeout)
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return session.NewError(session.ErrCodeCancelled, err)
		}

		frame, err := s.Source.Read(screenCtx)
		if err != nil {
			if e := readErr(ctx, screenCtx, err); e != nil {
				return e
			}
			log.Warn("no face found during duplicate screen")
			return session.NewError(session.ErrCodeNoFace, nil)
		}

		faces, err := c.gateway.Detect(frame.Data)
		if err != nil {
			return session.NewError(session.ErrCodeCapture, err)
		}
		c.metrics.RecordFrame(metrics.KindEnrollment)
		if len(faces) == 0 {
			continue
		}

		if match, ok := c.registry.Match(faces[0].Descriptor, c.opts.DuplicateTolerance); ok {
			log.WithField("matched", match).Warn("face already registered")
			return session.DuplicateFace(match)
		}
		log.Debug("duplicate screen passed")
		return nil
	}
}

// capture collects verified samples until enough are saved or the
// capture phase ends. Samples already saved are returned with any error.
func (c *Controller) capture(ctx context.Context, s *session.Session, name string, log *logging.Entry) ([]sample, error) {
	captureCtx, cancel := context.WithTimeout(ctx, c.opts.CaptureTimeout)
	defer cancel()

	c.shutter.Reset()

	var samples []sample
	prompted := 0
	for attempts := 0; len(samples) < c.opts.Samples; attempts++ {
		if err := ctx.Err(); err != nil {
			return samples, session.NewError(session.ErrCodeCancelled, err)
		}
		if c.opts.MaxCaptureAttempts > 0 && attempts >= c.opts.MaxCaptureAttempts {
			log.WithField("attempts", attempts).Warn("capture attempt limit reached")
			return samples, nil
		}

		next := len(samples) + 1
		if next != prompted {
			prompted = next
			c.prompt(next)
		}

		frame, err := s.Source.Read(captureCtx)
		if err != nil {
			return samples, readErr(ctx, captureCtx, err)
		}

		boxes, err := c.gateway.Locate(frame.Data)
		if err != nil {
			return samples, session.NewError(session.ErrCodeCapture, err)
		}
		c.metrics.RecordFrame(metrics.KindEnrollment)

		if err := c.shutter.Wait(captureCtx); err != nil {
			return samples, readErr(ctx, captureCtx, err)
		}
		if len(boxes) == 0 {
			continue
		}

		crop, err := camera.Crop(frame, boxes[0])
		if err != nil {
			log.WithError(err).Debug("crop failed, retrying")
			continue
		}

		path, err := c.images.SaveSample(name, next, crop)
		if err != nil {
			return samples, session.NewError(session.ErrCodePersistence, err)
		}

		verified, err := c.gateway.Locate(crop)
		if err != nil || len(verified) == 0 {
			log.WithField("sample", next).Debug("sample rejected, no face in crop")
			if err := c.images.RemoveSample(path); err != nil {
				log.WithError(err).Warn("failed to remove rejected sample")
			}
			continue
		}

		samples = append(samples, sample{path: path, data: crop, box: verified[0]})
		log.WithFields(logging.Fields{
			"sample": next,
			"prompt": Prompt(next),
		}).Debug("sample captured")
	}
	return samples, nil
}

func (c *Controller) prompt(sample int) {
	if c.onPrompt == nil {
		return
	}
	c.onPrompt(Progress{Sample: sample, Total: c.opts.Samples, Prompt: Prompt(sample)})
}

// finalize embeds every sample, stores the embeddings and adds the
// employee. On failure it rolls back what this enrollment wrote and
// nothing else.
func (c *Controller) finalize(ctx context.Context, name string, samples []sample, log *logging.Entry) (uint, error) {
	descriptors := make([]recognition.Descriptor, 0, len(samples))
	for i, smp := range samples {
		d, err := c.gateway.Embed(smp.data, smp.box)
		if err != nil {
			c.discardSamples(name, samples, log)
			return 0, session.NewError(session.ErrCodePersistence,
				fmt.Errorf("failed to embed sample %d: %w", i+1, err))
		}
		descriptors = append(descriptors, d)
	}

	if err := c.registry.Append(name, descriptors); err != nil {
		log.WithError(err).Error("failed to store embeddings")
		c.discardSamples(name, samples, log)
		return 0, session.NewError(session.ErrCodePersistence, err)
	}

	id, err := c.employees.AddEmployee(ctx, name)
	if err != nil {
		log.WithError(err).Error("failed to add employee, rolling back embeddings")
		if rerr := c.registry.RemoveLast(name, len(descriptors)); rerr != nil {
			log.WithError(rerr).Error("failed to roll back embeddings")
		}
		c.discardSamples(name, samples, log)
		if errors.Is(err, store.ErrEmployeeExists) {
			return 0, alreadyExists(name, err)
		}
		return 0, session.NewError(session.ErrCodePersistence, err)
	}
	return id, nil
}

// discardSamples deletes the sample files this enrollment saved and the
// employee directory if that leaves it empty.
func (c *Controller) discardSamples(name string, samples []sample, log *logging.Entry) {
	for _, smp := range samples {
		if err := c.images.RemoveSample(smp.path); err != nil {
			log.WithError(err).Warn("failed to remove sample image")
		}
	}
	if err := c.images.Prune(name); err != nil {
		log.WithError(err).Warn("failed to remove sample directory")
	}
}
