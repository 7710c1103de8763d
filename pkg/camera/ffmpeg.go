package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

// maxFrameSize bounds a single MJPEG frame so a corrupt stream cannot grow
// the buffer without limit.
const maxFrameSize = 8 << 20

// FFmpegSource streams MJPEG frames from a V4L2 device through ffmpeg.
// Only the most recent frame is kept; slow readers skip stale frames.
type FFmpegSource struct {
	settings Settings

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	frames  chan *Frame
	done    chan struct{}
	readErr error
	closed  bool
}

// NewFFmpegSource creates a source; call Start before reading.
func NewFFmpegSource(s Settings) *FFmpegSource {
	if s.FFmpegPath == "" {
		s.FFmpegPath = "ffmpeg"
	}
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = 640, 480
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	return &FFmpegSource{settings: s}
}

func (s *FFmpegSource) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", s.settings.Width, s.settings.Height),
		"-framerate", strconv.Itoa(s.settings.FPS),
		"-i", s.settings.Device,
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}
}

// Start launches ffmpeg and the frame reader goroutine.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	cmd := execCommand(s.settings.FFmpegPath, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.frames = make(chan *Frame, 1)
	s.done = make(chan struct{})

	logging.Component("camera").WithField("device", s.settings.Device).Debug("ffmpeg stream started")

	go s.pump(bufio.NewReaderSize(stdout, 64*1024))
	return nil
}

func (s *FFmpegSource) pump(r *bufio.Reader) {
	defer close(s.done)

	for {
		data, err := readJPEG(r)
		if err != nil {
			s.mu.Lock()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				s.readErr = io.EOF
			} else {
				s.readErr = fmt.Errorf("failed to read stream: %w", err)
			}
			s.mu.Unlock()
			return
		}

		frame := &Frame{
			Data:      data,
			Width:     s.settings.Width,
			Height:    s.settings.Height,
			Timestamp: time.Now(),
		}
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
			frame.Width, frame.Height = cfg.Width, cfg.Height
		}

		// Drop the stale frame if the reader has not taken it yet.
		select {
		case <-s.frames:
		default:
		}
		s.frames <- frame
	}
}

// Read returns the latest frame.
func (s *FFmpegSource) Read(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed || s.cmd == nil {
		s.mu.Unlock()
		return nil, ErrCameraNotOpen
	}
	frames, done := s.frames, s.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-frames:
		return f, nil
	case <-done:
		// Drain a frame that raced with stream end.
		select {
		case f := <-frames:
			return f, nil
		default:
		}
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		if err == nil {
			err = ErrNoFrame
		}
		return nil, err
	}
}

// Close stops ffmpeg and releases the device.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed || s.cmd == nil {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	_ = cmd.Wait()

	logging.Component("camera").WithField("device", s.settings.Device).Debug("ffmpeg stream stopped")
	return nil
}

// readJPEG scans r for the next SOI..EOI delimited JPEG image.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
	buf.Write([]byte{0xFF, 0xD8})
	prev = 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		if buf.Len() > maxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrNoFrame, maxFrameSize)
		}
		prev = b
	}
}
