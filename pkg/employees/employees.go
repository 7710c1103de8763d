// Package employees manages enrolled employees across the database, the
// face registry and the sample image directory.
package employees

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

// ImageRoute is the URL prefix sample images are served under.
const ImageRoute = "/employee_images"

// Store is the subset of the persistent store used here.
type Store interface {
	GetAllEmployees(ctx context.Context) ([]store.Employee, error)
	DeleteEmployee(ctx context.Context, id uint) (*store.Employee, error)
}

// Registry is the subset of the face registry used here.
type Registry interface {
	Count() int
	CountFor(name string) int
	Identities() []string
	RemoveIdentity(name string) error
	ClearAll() error
}

// Images is the subset of the sample image store used here.
type Images interface {
	Thumbnail(name string) (string, bool)
	RemoveAll(name string) error
}

// Summary is an employee as shown in listings.
type Summary struct {
	ID             uint      `json:"id"`
	Name           string    `json:"name"`
	RegisteredDate time.Time `json:"registered_date"`
	Faces          int       `json:"faces"`
	ImageURL       string    `json:"image_url,omitempty"`
}

// Service manages employees.
type Service struct {
	store    Store
	registry Registry
	images   Images
}

// NewService creates an employee service.
func NewService(s Store, r Registry, images Images) *Service {
	return &Service{store: s, registry: r, images: images}
}

// ImageURL returns the URL a sample image is served at.
func ImageURL(name, file string) string {
	return fmt.Sprintf("%s/%s/%s", ImageRoute, url.PathEscape(name), url.PathEscape(file))
}

// List returns all employees in registration order.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.store.GetAllEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, e := range rows {
		sum := Summary{
			ID:             e.ID,
			Name:           e.Name,
			RegisteredDate: e.RegisteredDate,
			Faces:          s.registry.CountFor(e.Name),
		}
		if file, ok := s.images.Thumbnail(e.Name); ok {
			sum.ImageURL = ImageURL(e.Name, file)
		}
		out = append(out, sum)
	}
	return out, nil
}

// FaceCount returns the number of embeddings in the registry.
func (s *Service) FaceCount() int {
	return s.registry.Count()
}

// Orphans returns identities that have embeddings but no employee row,
// as left behind by an interrupted delete.
func (s *Service) Orphans(ctx context.Context) ([]string, error) {
	rows, err := s.store.GetAllEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	known := make(map[string]bool, len(rows))
	for _, e := range rows {
		known[e.Name] = true
	}

	var out []string
	for _, id := range s.registry.Identities() {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Delete removes an employee with their attendance records, sample
// images and embeddings. Removing the last employee clears the whole
// embedding store.
func (s *Service) Delete(ctx context.Context, id uint) (*store.Employee, error) {
	emp, err := s.store.DeleteEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	log := logging.Component("employees").WithField("employee", emp.Name)

	if err := s.images.RemoveAll(emp.Name); err != nil {
		log.WithError(err).Warn("failed to remove sample images")
	}

	remaining, err := s.store.GetAllEmployees(ctx)
	if err != nil {
		return emp, fmt.Errorf("failed to list remaining employees: %w", err)
	}

	if len(remaining) == 0 {
		if err := s.registry.ClearAll(); err != nil {
			return emp, fmt.Errorf("failed to clear embeddings: %w", err)
		}
	} else if err := s.registry.RemoveIdentity(emp.Name); err != nil {
		return emp, fmt.Errorf("failed to remove embeddings: %w", err)
	}

	log.WithField("remaining", len(remaining)).Info("employee deleted")
	return emp, nil
}
