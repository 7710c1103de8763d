// Package attendance records daily check-ins and check-outs for
// employees recognized by a camera scan.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

// Action is the transition a scan requests.
type Action string

const (
	ActionCheckIn  Action = "checkin"
	ActionCheckOut Action = "checkout"
)

// ParseAction parses "checkin" or "checkout" (case-insensitive).
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCheckIn:
		return ActionCheckIn, nil
	case ActionCheckOut:
		return ActionCheckOut, nil
	}
	return "", fmt.Errorf("unknown attendance action: %q", s)
}

// State is the attendance state of one employee on one day.
type State int

const (
	StateNoRecord State = iota
	StateCheckedIn
	StateCheckedOut
)

func (s State) String() string {
	switch s {
	case StateNoRecord:
		return "no_record"
	case StateCheckedIn:
		return "checked_in"
	case StateCheckedOut:
		return "checked_out"
	}
	return "unknown"
}

// Status is the result of applying an action for one employee.
type Status string

const (
	StatusCheckedIn         Status = "checked_in"
	StatusAlreadyCheckedIn  Status = "already_checked_in"
	StatusCheckedOut        Status = "checked_out"
	StatusNotCheckedIn      Status = "not_checked_in"
	StatusAlreadyCheckedOut Status = "already_checked_out"
	StatusError             Status = "error"
)

// Outcome reports what happened for one employee.
type Outcome struct {
	Employee string    `json:"employee"`
	Action   Action    `json:"action"`
	Status   Status    `json:"status"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

// Success reports whether the outcome changed the employee's state.
func (o Outcome) Success() bool {
	return o.Status == StatusCheckedIn || o.Status == StatusCheckedOut
}

// Store is the subset of the persistent store the ledger uses.
type Store interface {
	FindAttendance(ctx context.Context, name, date string) (*store.AttendanceRecord, error)
	MarkAttendance(ctx context.Context, name string, checkIn time.Time, checkOut *time.Time) (*store.AttendanceRecord, error)
	UpdateCheckIn(ctx context.Context, name, date string, t time.Time) error
	UpdateCheckout(ctx context.Context, name, date string, t time.Time) error
}

// Ledger applies the per-day state machine
// NoRecord -> CheckedIn -> CheckedOut. Out-of-order requests produce
// informational outcomes and leave the record untouched.
type Ledger struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over s.
func NewLedger(s Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// State returns the state of name on date.
func (l *Ledger) State(ctx context.Context, name, date string) (State, error) {
	_, state, err := l.lookup(ctx, name, date)
	return state, err
}

// lookup returns the record for (name, date), nil when there is none,
// together with its state.
func (l *Ledger) lookup(ctx context.Context, name, date string) (*store.AttendanceRecord, State, error) {
	rec, err := l.store.FindAttendance(ctx, name, date)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, StateNoRecord, nil
	}
	if err != nil {
		return nil, StateNoRecord, err
	}
	return rec, recordState(rec), nil
}

// recordState maps a stored row onto the state machine. A row without a
// check-in has not started the day.
func recordState(rec *store.AttendanceRecord) State {
	switch {
	case rec.CheckIn == nil:
		return StateNoRecord
	case rec.CheckOut != nil:
		return StateCheckedOut
	default:
		return StateCheckedIn
	}
}

// CheckIn records a check-in for name today, once per day.
func (l *Ledger) CheckIn(ctx context.Context, name string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	date := now.Format(store.DateFormat)
	out := Outcome{Employee: name, Action: ActionCheckIn, Time: now}

	rec, state, err := l.lookup(ctx, name, date)
	if err != nil {
		return out, fmt.Errorf("failed to read attendance for %s: %w", name, err)
	}

	if state != StateNoRecord {
		out.Status = StatusAlreadyCheckedIn
		out.Message = fmt.Sprintf("%s has already checked in today", name)
		return out, nil
	}

	if rec != nil {
		err = l.store.UpdateCheckIn(ctx, name, date, now)
	} else {
		_, err = l.store.MarkAttendance(ctx, name, now, nil)
	}
	if err != nil {
		return out, fmt.Errorf("failed to record check-in for %s: %w", name, err)
	}

	out.Status = StatusCheckedIn
	out.Message = fmt.Sprintf("Check-in recorded for %s", name)
	logging.Component("ledger").WithFields(logging.Fields{
		"employee": name,
		"date":     date,
	}).Info("check-in recorded")
	return out, nil
}

// CheckOut closes today's record for name if it is open.
func (l *Ledger) CheckOut(ctx context.Context, name string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	date := now.Format(store.DateFormat)
	out := Outcome{Employee: name, Action: ActionCheckOut, Time: now}

	state, err := l.State(ctx, name, date)
	if err != nil {
		return out, fmt.Errorf("failed to read attendance for %s: %w", name, err)
	}

	switch state {
	case StateNoRecord:
		out.Status = StatusNotCheckedIn
		out.Message = fmt.Sprintf("%s has not checked in today", name)
		return out, nil
	case StateCheckedOut:
		out.Status = StatusAlreadyCheckedOut
		out.Message = fmt.Sprintf("%s has already checked out today", name)
		return out, nil
	}

	if err := l.store.UpdateCheckout(ctx, name, date, now); err != nil {
		return out, fmt.Errorf("failed to record check-out for %s: %w", name, err)
	}

	out.Status = StatusCheckedOut
	out.Message = fmt.Sprintf("Check-out recorded for %s", name)
	logging.Component("ledger").WithFields(logging.Fields{
		"employee": name,
		"date":     date,
	}).Info("check-out recorded")
	return out, nil
}

// Apply runs action for name and folds any failure into the outcome.
func (l *Ledger) Apply(ctx context.Context, action Action, name string) Outcome {
	var (
		out Outcome
		err error
	)
	switch action {
	case ActionCheckIn:
		out, err = l.CheckIn(ctx, name)
	case ActionCheckOut:
		out, err = l.CheckOut(ctx, name)
	default:
		err = fmt.Errorf("unknown attendance action: %q", action)
		out = Outcome{Employee: name, Action: action, Time: l.now()}
	}

	if err != nil {
		out.Status = StatusError
		out.Message = fmt.Sprintf("Could not record attendance for %s", name)
		out.Err = err
		logging.Component("ledger").WithError(err).WithField("employee", name).Error("attendance write failed")
	}
	return out
}
