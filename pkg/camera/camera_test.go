package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_FRAMES=" + os.Getenv("HELPER_FRAMES")}
	return cmd
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	// os.Args: [test_binary, -test.run=TestHelperProcess, --, command, args...]
	if len(os.Args) < 4 || os.Args[3] != "ffmpeg" {
		os.Exit(1)
	}

	count := 5
	if os.Getenv("HELPER_FRAMES") == "0" {
		count = 0
	}
	for i := 0; i < count; i++ {
		_, _ = os.Stdout.Write([]byte{0x00, 0x12})
		_, _ = os.Stdout.Write(testJPEG(nil, 32, 24))
		time.Sleep(5 * time.Millisecond)
	}
	os.Exit(0)
}

func testJPEG(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil && t != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadJPEG(t *testing.T) {
	first := testJPEG(t, 8, 8)
	second := testJPEG(t, 16, 8)

	var stream bytes.Buffer
	stream.Write([]byte("garbage"))
	stream.Write(first)
	stream.Write([]byte{0x00, 0x00})
	stream.Write(second)
	stream.Write([]byte{0xFF, 0xD8, 0x01})

	r := bufio.NewReader(&stream)

	got, err := readJPEG(r)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Error("first frame mismatch")
	}

	got, err = readJPEG(r)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Error("second frame mismatch")
	}

	if _, err := readJPEG(r); err != io.EOF {
		t.Errorf("expected io.EOF on truncated frame, got %v", err)
	}
}

func TestFFmpegSource_Stream(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() { execCommand = exec.Command }()

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if frame.Width != 32 || frame.Height != 24 {
		t.Errorf("expected 32x24 from decoded header, got %dx%d", frame.Width, frame.Height)
	}
	if frame.Data[0] != 0xFF || frame.Data[1] != 0xD8 {
		t.Error("frame is not a JPEG")
	}

	// Drain until the helper exits.
	for {
		if _, err = src.Read(ctx); err != nil {
			break
		}
	}
	if err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFFmpegSource_EmptyStream(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() { execCommand = exec.Command }()
	t.Setenv("HELPER_FRAMES", "0")

	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()

	if _, err := src.Read(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFFmpegSource_ReadCancelled(t *testing.T) {
	src := &FFmpegSource{
		cmd:    &exec.Cmd{},
		frames: make(chan *Frame, 1),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFFmpegSource_NotStarted(t *testing.T) {
	src := NewFFmpegSource(Settings{Device: "/dev/video0"})
	if _, err := src.Read(context.Background()); err != ErrCameraNotOpen {
		t.Errorf("expected ErrCameraNotOpen, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close on unstarted source: %v", err)
	}
}

func TestFFmpegSource_Defaults(t *testing.T) {
	src := NewFFmpegSource(Settings{Device: "/dev/video1"})
	args := src.args()

	want := map[string]string{"-video_size": "640x480", "-framerate": "30", "-i": "/dev/video1"}
	for i := 0; i < len(args)-1; i++ {
		if v, ok := want[args[i]]; ok {
			if args[i+1] != v {
				t.Errorf("%s = %s, want %s", args[i], args[i+1], v)
			}
			delete(want, args[i])
		}
	}
	if len(want) > 0 {
		t.Errorf("missing args: %v", want)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("expected pipe output, got %s", args[len(args)-1])
	}
}

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	for i, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), testJPEG(t, 10+i, 10), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReplaySource(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "002.jpg", "001.jpg", "003.JPEG")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := NewReplaySource(dir, 0)
	if err != nil {
		t.Fatalf("NewReplaySource failed: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", src.Len())
	}

	ctx := context.Background()
	var widths []int
	for {
		f, err := src.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		widths = append(widths, f.Width)
	}

	// Sorted by name: 001 (written second), 002 (first), 003 (third).
	want := []int{11, 10, 12}
	for i := range want {
		if widths[i] != want[i] {
			t.Errorf("frame %d width = %d, want %d", i, widths[i], want[i])
		}
	}

	_ = src.Close()
	if _, err := src.Read(ctx); err != ErrCameraNotOpen {
		t.Errorf("expected ErrCameraNotOpen after close, got %v", err)
	}
}

func TestReplaySource_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "a.jpg")

	src, err := NewReplaySource(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestReplaySource_MissingDir(t *testing.T) {
	if _, err := NewReplaySource(filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestDeviceOpener(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "a.jpg")

	src, err := NewDeviceOpener(Settings{Device: dir}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*ReplaySource); !ok {
		t.Errorf("expected replay source for a directory, got %T", src)
	}

	_, err = NewDeviceOpener(Settings{Device: filepath.Join(dir, "video9")}).Open(context.Background())
	if !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("expected ErrCameraNotFound, got %v", err)
	}
}

func TestDeviceOpener_Stream(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() { execCommand = exec.Command }()

	dev := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(dev, nil, 0644); err != nil {
		t.Fatal(err)
	}

	src, err := NewDeviceOpener(Settings{Device: dev}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*FFmpegSource); !ok {
		t.Errorf("expected ffmpeg source for a device, got %T", src)
	}
}

func TestOpenerFunc(t *testing.T) {
	called := false
	var o Opener = OpenerFunc(func(ctx context.Context) (Source, error) {
		called = true
		return nil, ErrCameraNotFound
	})
	if _, err := o.Open(context.Background()); err != ErrCameraNotFound || !called {
		t.Errorf("OpenerFunc did not delegate: %v", err)
	}
}

func TestCrop(t *testing.T) {
	frame := &Frame{Data: testJPEG(t, 400, 300)}

	tests := []struct {
		name    string
		rect    image.Rectangle
		wantW   int
		wantH   int
		wantErr error
	}{
		{"inside", image.Rect(100, 50, 300, 250), 200, 200, nil},
		{"clipped", image.Rect(300, 200, 500, 400), 160, 160, nil},
		{"small upscaled", image.Rect(0, 0, 80, 40), 320, 160, nil},
		{"outside", image.Rect(500, 500, 600, 600), 0, 0, ErrEmptyCrop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Crop(frame, tt.rect)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Crop failed: %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("crop is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("crop size = %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCrop_InvalidFrame(t *testing.T) {
	if _, err := Crop(&Frame{Data: []byte("not a jpeg")}, image.Rect(0, 0, 1, 1)); err == nil {
		t.Error("expected decode error")
	}
}
