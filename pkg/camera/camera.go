// Package camera provides frame sources for capture sessions.
// A live V4L2 device is streamed through ffmpeg as MJPEG; a directory of
// JPEG files can be replayed in its place for kiosks without a camera.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"
)

// Frame represents a single JPEG-encoded camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// ToImage decodes the frame into an image.
func (f *Frame) ToImage() (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// Source yields frames until it is exhausted or closed.
// Read blocks until a frame is available or ctx is done. An exhausted
// source returns io.EOF.
type Source interface {
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

// Opener acquires a Source for the duration of one capture session.
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Source, error) {
	return f(ctx)
}

// Settings describes how a device should be opened.
type Settings struct {
	Device     string
	Width      int
	Height     int
	FPS        int
	FFmpegPath string
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when reading from a closed source.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when the stream ended without a complete frame.
var ErrNoFrame = errors.New("failed to capture frame")

// DeviceOpener opens the configured device for every session.
type DeviceOpener struct {
	Settings Settings
}

// NewDeviceOpener creates an opener for the given settings.
func NewDeviceOpener(s Settings) *DeviceOpener {
	return &DeviceOpener{Settings: s}
}

// Open starts a source for the device. Directories are replayed, anything
// else is streamed through ffmpeg.
func (o *DeviceOpener) Open(ctx context.Context) (Source, error) {
	info, err := os.Stat(o.Settings.Device)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, o.Settings.Device)
		}
		return nil, fmt.Errorf("failed to stat camera device: %w", err)
	}

	if info.IsDir() {
		return NewReplaySource(o.Settings.Device, 0)
	}

	src := NewFFmpegSource(o.Settings)
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	return src, nil
}
