package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// ErrInvalidPath is returned for names or files that would escape the images root.
var ErrInvalidPath = errors.New("invalid image path")

// ErrImageNotFound is returned when a sample image does not exist.
var ErrImageNotFound = errors.New("image not found")

// thumbnailIndex picks the fifth sample, usually a frontal pose.
const thumbnailIndex = 4

// ImageStore keeps each employee's face samples under <root>/<name>/NN.jpg.
type ImageStore struct {
	root string
}

// NewImageStore creates the root directory if needed.
func NewImageStore(root string) (*ImageStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &ImageStore{root: root}, nil
}

// Root returns the images root directory.
func (s *ImageStore) Root() string {
	return s.root
}

func validComponent(part string) bool {
	return part != "" && part != "." && part != ".." &&
		!strings.ContainsAny(part, `/\`) && filepath.IsLocal(part)
}

// Dir returns the sample directory for an employee.
func (s *ImageStore) Dir(name string) (string, error) {
	if !validComponent(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(s.root, name), nil
}

// SampleName returns the file name of the 1-based sample index.
func SampleName(index int) string {
	return fmt.Sprintf("%02d.jpg", index)
}

// SaveSample writes sample index (1-based) for name and returns its path.
func (s *ImageStore) SaveSample(name string, index int, data []byte) (string, error) {
	dir, err := s.Dir(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create sample directory: %w", err)
	}
	path := filepath.Join(dir, SampleName(index))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	return path, nil
}

// RemoveSample deletes a single sample file.
func (s *ImageStore) RemoveSample(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sample: %w", err)
	}
	return nil
}

// Prune removes an employee's sample directory if it holds no files.
func (s *ImageStore) Prune(name string) error {
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read sample directory: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sample directory: %w", err)
	}
	return nil
}

// Samples lists an employee's sample files in name order.
func (s *ImageStore) Samples(name string) ([]string, error) {
	dir, err := s.Dir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Thumbnail returns the file name used as the employee's picture. Employees
// with fewer than five samples have none.
func (s *ImageStore) Thumbnail(name string) (string, bool) {
	files, err := s.Samples(name)
	if err != nil || len(files) <= thumbnailIndex {
		return "", false
	}
	return files[thumbnailIndex], true
}

// Path resolves a sample file for serving, confined to the images root.
func (s *ImageStore) Path(name, file string) (string, error) {
	dir, err := s.Dir(name)
	if err != nil {
		return "", err
	}
	if !validComponent(file) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, file)
	}
	path := filepath.Join(dir, file)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrImageNotFound
	}
	return path, nil
}

// RemoveAll deletes an employee's sample directory. Missing directories are fine.
func (s *ImageStore) RemoveAll(name string) error {
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove sample directory: %w", err)
	}
	logging.Debugf("Removed sample directory for: %s", name)
	return nil
}
