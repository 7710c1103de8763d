package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/app"
	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

// Exit codes:
//
//	0 = at least one employee changed state
//	1 = only informational outcomes (already checked in, not checked in)
//	2 = no face seen or the scan was cancelled
//	3 = system error (config, camera, busy, persistence)
const (
	exitSuccess = 0
	exitInfo    = 1
	exitNoFace  = 2
	exitSystem  = 3
)

// Scanner runs one attendance scan.
type Scanner interface {
	MarkAttendance(ctx context.Context, action attendance.Action) (*attendance.ScanResult, error)
}

func main() {
	_ = godotenv.Load()

	raw := os.Getenv("FACEATTEND_ACTION")
	if len(os.Args) > 1 {
		raw = os.Args[1]
	}
	action, err := attendance.ParseAction(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Usage: faceattend-kiosk checkin|checkout")
		os.Exit(exitSystem)
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FaceAttend: Configuration error: %v\n", err)
		os.Exit(exitSystem)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "FaceAttend: Configuration error: %v\n", err)
		os.Exit(exitSystem)
	}
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FaceAttend: Configuration error: %v\n", err)
		os.Exit(exitSystem)
	}

	// Logs go to stderr and the log file, outcomes to stdout.
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "FaceAttend: Could not open log file: %v\n", err)
	}
	logging.Infof("FaceAttend kiosk v%s starting %s", version, action)

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		logging.Errorf("Failed to initialize: %v", err)
		fmt.Fprintln(os.Stderr, "FaceAttend: Initialization error")
		os.Exit(exitSystem)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fmt.Fprintf(os.Stderr, "FaceAttend: %s, look at the camera...\n", action)
	code := runScan(ctx, a.Attendance, action, os.Stdout, time.Now())
	stop()
	_ = a.Close()
	os.Exit(code)
}

// runScan performs one scan, prints per-employee outcomes to out and
// returns the process exit code.
func runScan(ctx context.Context, s Scanner, action attendance.Action, out io.Writer, start time.Time) int {
	res, err := s.MarkAttendance(ctx, action)
	if err != nil {
		logging.Warnf("Scan failed: %v (duration: %v)", err, time.Since(start))

		var se *session.Error
		if !errors.As(err, &se) {
			fmt.Fprintf(out, "FaceAttend: %v\n", err)
			return exitSystem
		}
		fmt.Fprintf(out, "FaceAttend: %s\n", se.Message)
		switch se.Code {
		case session.ErrCodeNoFace, session.ErrCodeCancelled:
			return exitNoFace
		default:
			return exitSystem
		}
	}

	code := exitInfo
	failed := false
	for _, o := range res.Outcomes {
		fmt.Fprintf(out, "%s: %s\n", o.Employee, o.Message)
		switch {
		case o.Success():
			code = exitSuccess
		case o.Status == attendance.StatusError:
			failed = true
		}
	}
	if failed && code != exitSuccess {
		code = exitSystem
	}
	if len(res.Outcomes) == 0 {
		fmt.Fprintln(out, "FaceAttend: No registered employee recognized")
	}

	logging.Infof("Scan finished: %d recognized, %d unknown (duration: %v)",
		len(res.Recognized), res.UnknownCount, time.Since(start))
	return code
}
