// Package recognition provides face detection and embedding.
// It uses dlib through go-face; every face found in a frame yields a
// bounding box and a 128-dimensional descriptor.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"gonum.org/v1/gonum/floats"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Face is a detected face with its embedding.
type Face struct {
	Box        image.Rectangle
	Descriptor Descriptor
}

// FaceEngine is the subset of the go-face recognizer we depend on.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// Gateway locates faces in a JPEG frame and computes their embeddings.
// A frame without faces yields an empty result, not an error.
type Gateway interface {
	Detect(frame []byte) ([]Face, error)
	Locate(frame []byte) ([]image.Rectangle, error)
	Embed(frame []byte, box image.Rectangle) (Descriptor, error)
}

// ErrNoFaceDetected is returned by Embed when no face overlaps the box.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// DlibRecognizer implements Gateway using dlib via go-face.
// dlib is not safe for concurrent use, so engine calls are serialized.
type DlibRecognizer struct {
	mu        sync.Mutex
	engine    FaceEngine
	factory   func(path string) (FaceEngine, error)
	modelPath string
	useCNN    bool
}

// NewRecognizer creates a recognizer; call LoadModels before use.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: func(path string) (FaceEngine, error) {
			return face.NewRecognizer(path)
		},
	}
}

// SetCNN switches detection to the slower, more accurate CNN detector.
// The models directory must contain mmod_human_face_detector.dat.
func (r *DlibRecognizer) SetCNN(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useCNN = enabled
}

// LoadModels loads the dlib models from modelPath. The directory must contain
// shape_predictor_5_face_landmarks.dat and dlib_face_recognition_resnet_model_v1.dat.
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath

	logging.Infof("Face recognition models loaded")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine != nil
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	return nil
}

// Detect returns every face in the frame with its descriptor.
func (r *DlibRecognizer) Detect(frame []byte) ([]Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine == nil {
		return nil, ErrModelNotLoaded
	}

	var (
		found []face.Face
		err   error
	)
	if r.useCNN {
		found, err = r.engine.RecognizeCNN(frame)
	} else {
		found, err = r.engine.Recognize(frame)
	}
	if err != nil {
		var loadErr face.ImageLoadError
		if errors.As(err, &loadErr) {
			logging.Debugf("Skipping undecodable frame: %v", err)
			return []Face{}, nil
		}
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]Face, len(found))
	for i, f := range found {
		result[i] = Face{Box: f.Rectangle, Descriptor: f.Descriptor}
	}

	logging.Debugf("Detected %d face(s) in frame", len(result))
	return result, nil
}

// Locate returns the bounding boxes of all faces in the frame.
func (r *DlibRecognizer) Locate(frame []byte) ([]image.Rectangle, error) {
	faces, err := r.Detect(frame)
	if err != nil {
		return nil, err
	}
	boxes := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	return boxes, nil
}

// Embed returns the descriptor of the face that best overlaps box.
func (r *DlibRecognizer) Embed(frame []byte, box image.Rectangle) (Descriptor, error) {
	faces, err := r.Detect(frame)
	if err != nil {
		return Descriptor{}, err
	}
	idx := BestOverlap(faces, box)
	if idx < 0 {
		return Descriptor{}, ErrNoFaceDetected
	}
	return faces[idx].Descriptor, nil
}

// BestOverlap returns the index of the face whose box shares the most area
// with box, or -1 when none overlap.
func BestOverlap(faces []Face, box image.Rectangle) int {
	best, bestArea := -1, 0
	for i, f := range faces {
		inter := f.Box.Intersect(box)
		if inter.Empty() {
			continue
		}
		if area := inter.Dx() * inter.Dy(); area > bestArea {
			best, bestArea = i, area
		}
	}
	return best
}

// Vector widens d for use with VectorDistance. Convert once and reuse the
// result when comparing against many descriptors.
func Vector(d Descriptor) []float64 {
	v := make([]float64, len(d))
	for i, x := range d {
		v[i] = float64(x)
	}
	return v
}

// VectorDistance is the Euclidean distance between two vectors from Vector.
func VectorDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Distance is the Euclidean distance between two descriptors.
// Lower is more similar; dlib considers distances below 0.6 the same person.
func Distance(a, b Descriptor) float64 {
	return VectorDistance(Vector(a), Vector(b))
}
