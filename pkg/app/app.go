// Package app assembles FaceAttend's components from configuration.
package app

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/faceattend/pkg/api"
	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/employees"
	"github.com/MrCodeEU/faceattend/pkg/enrollment"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/registry"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Options override the production collaborators. Zero values select the
// dlib recognizer, the configured camera device and a fresh metrics registry.
type Options struct {
	Gateway  recognition.Gateway
	Opener   camera.Opener
	Registry *prometheus.Registry

	// EmbeddingKey replaces the machine-derived encryption key when set.
	EmbeddingKey *[storage.KeySize]byte
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Registry   *registry.Registry
	Images     *storage.ImageStore
	Sessions   *session.Manager
	Gateway    recognition.Gateway
	Enrollment *enrollment.Controller
	Attendance *attendance.Controller
	Employees  *employees.Service
	Shutter    *enrollment.AutoShutter
	Metrics    *metrics.Metrics
	Gatherer   *prometheus.Registry

	closers []func() error
}

// New wires every component. The caller must Close the app.
func New(cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Gatherer = opts.Registry
	if a.Gatherer == nil {
		a.Gatherer = prometheus.NewRegistry()
	}
	if a.Metrics, err = metrics.New(a.Gatherer); err != nil {
		return nil, err
	}

	a.Gateway = opts.Gateway
	if a.Gateway == nil {
		rec := recognition.NewRecognizer()
		rec.SetCNN(cfg.Recognition.UseCNN)
		if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
			return nil, fmt.Errorf("failed to load face models: %w", err)
		}
		a.closers = append(a.closers, rec.Close)
		a.Gateway = rec
	}

	var ef *storage.EmbeddingFile
	if opts.EmbeddingKey != nil {
		ef, err = storage.NewEmbeddingFileWithKey(cfg.Storage.EmbeddingsFile, *opts.EmbeddingKey)
	} else {
		ef, err = storage.NewEmbeddingFile(cfg.Storage.EmbeddingsFile, cfg.Storage.EncryptionEnabled)
	}
	if err != nil {
		return nil, err
	}
	a.Registry = registry.New(ef)
	a.Registry.SetObserver(a.Metrics)
	if err := a.Registry.Load(); err != nil {
		return nil, err
	}

	if a.Images, err = storage.NewImageStore(cfg.Storage.ImagesDir); err != nil {
		return nil, err
	}

	if a.Store, err = store.Open(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	opener := opts.Opener
	if opener == nil {
		opener = camera.NewDeviceOpener(camera.Settings{
			Device:     cfg.Camera.Device,
			Width:      cfg.Camera.Width,
			Height:     cfg.Camera.Height,
			FPS:        cfg.Camera.FPS,
			FFmpegPath: cfg.Camera.FFmpegPath,
		})
	}
	a.Sessions = session.NewManager(opener)

	a.Shutter = enrollment.NewAutoShutter(cfg.CaptureInterval())
	a.Enrollment = enrollment.NewController(a.Sessions, a.Gateway, a.Registry, a.Store, a.Images, a.Shutter,
		enrollment.Options{
			Samples:            cfg.Enrollment.Samples,
			DuplicateTolerance: cfg.Recognition.DuplicateTolerance,
			DuplicateTimeout:   cfg.DuplicateTimeout(),
			CaptureTimeout:     cfg.CaptureTimeout(),
			MaxCaptureAttempts: cfg.Enrollment.MaxCaptureAttempts,
		})
	a.Enrollment.SetMetrics(a.Metrics)

	a.Attendance = attendance.NewController(a.Sessions, a.Gateway, a.Registry, attendance.NewLedger(a.Store),
		attendance.Options{
			ScanTimeout:  cfg.ScanTimeout(),
			Tolerance:    cfg.Recognition.Tolerance,
			StopOnStable: cfg.Attendance.StopOnStable,
			StableFrames: cfg.Attendance.StableFrames,
		})
	a.Attendance.SetMetrics(a.Metrics)

	a.Employees = employees.NewService(a.Store, a.Registry, a.Images)

	logging.Component("app").WithFields(logging.Fields{
		"faces":  a.Registry.Count(),
		"driver": cfg.Database.Driver,
	}).Debug("components ready")
	return a, nil
}

// Server builds the HTTP server over the app's components.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Enroller:  a.Enrollment,
		Shutter:   a.Shutter,
		Scanner:   a.Attendance,
		Employees: a.Employees,
		Records:   a.Store,
		Images:    a.Images,
		Sessions:  a.Sessions,
		Gatherer:  a.Gatherer,
	}, a.Config.ListenAddr())
}

// Close releases the database and the face models.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
