package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func clockAt(date, clock string) func() time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"checkin", ActionCheckIn, false},
		{"CheckOut", ActionCheckOut, false},
		{" checkin ", ActionCheckIn, false},
		{"lunch", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLedger_StateMachine(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	l := NewLedger(db)

	steps := []struct {
		clock  string
		action Action
		want   Status
		state  State
	}{
		{"08:00:00", ActionCheckOut, StatusNotCheckedIn, StateNoRecord},
		{"09:00:00", ActionCheckIn, StatusCheckedIn, StateCheckedIn},
		{"09:30:00", ActionCheckIn, StatusAlreadyCheckedIn, StateCheckedIn},
		{"17:00:00", ActionCheckOut, StatusCheckedOut, StateCheckedOut},
		{"18:00:00", ActionCheckOut, StatusAlreadyCheckedOut, StateCheckedOut},
		{"19:00:00", ActionCheckIn, StatusAlreadyCheckedIn, StateCheckedOut},
	}

	for _, step := range steps {
		l.SetClock(clockAt("2024-01-01", step.clock))
		out := l.Apply(ctx, step.action, "Alice Smith")
		if out.Err != nil {
			t.Fatalf("%s %s: unexpected error %v", step.clock, step.action, out.Err)
		}
		if out.Status != step.want {
			t.Errorf("%s %s: status = %s, want %s", step.clock, step.action, out.Status, step.want)
		}

		state, err := l.State(ctx, "Alice Smith", "2024-01-01")
		if err != nil {
			t.Fatalf("State() error: %v", err)
		}
		if state != step.state {
			t.Errorf("%s: state = %s, want %s", step.clock, state, step.state)
		}
	}

	rec, err := db.FindAttendance(ctx, "Alice Smith", "2024-01-01")
	if err != nil {
		t.Fatalf("FindAttendance() error: %v", err)
	}
	if got := rec.CheckIn.Local().Format("15:04:05"); got != "09:00:00" {
		t.Errorf("check_in = %s, want 09:00:00", got)
	}
	if got := rec.CheckOut.Local().Format("15:04:05"); got != "17:00:00" {
		t.Errorf("first check_out must be preserved, got %s", got)
	}
}

func TestLedger_CheckInTwiceKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	l := NewLedger(db)
	l.SetClock(clockAt("2024-01-01", "09:00:00"))

	for i := 0; i < 2; i++ {
		if _, err := l.CheckIn(ctx, "Bob"); err != nil {
			t.Fatalf("CheckIn() error: %v", err)
		}
	}

	records, err := db.GetTodaysAttendance(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("GetTodaysAttendance() error: %v", err)
	}
	if len(records) != 1 || records[0].CheckIn == nil {
		t.Errorf("expected exactly one checked-in record, got %+v", records)
	}
}

func TestLedger_CheckOutWithoutCheckInWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	l := NewLedger(db)
	l.SetClock(clockAt("2024-01-01", "17:00:00"))

	out, err := l.CheckOut(ctx, "Bob")
	if err != nil {
		t.Fatalf("CheckOut() error: %v", err)
	}
	if out.Status != StatusNotCheckedIn || out.Success() {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Message != "Bob has not checked in today" {
		t.Errorf("unexpected message %q", out.Message)
	}

	records, _ := db.GetTodaysAttendance(ctx, "2024-01-01")
	if len(records) != 0 {
		t.Errorf("check-out must not create a record, got %+v", records)
	}
}

// storeWithEmptyRow returns a store holding a row for (name, date) that
// has neither a check-in nor a check-out.
func storeWithEmptyRow(t *testing.T, name, date string) *store.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open() error: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("DB() error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s, err := store.New(gdb)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := gdb.Create(&store.AttendanceRecord{EmployeeName: name, Date: date}).Error; err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return s
}

func TestLedger_RowWithoutCheckIn(t *testing.T) {
	ctx := context.Background()
	db := storeWithEmptyRow(t, "Dave", "2024-01-01")
	l := NewLedger(db)
	l.SetClock(clockAt("2024-01-01", "12:00:00"))

	state, err := l.State(ctx, "Dave", "2024-01-01")
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if state != StateNoRecord {
		t.Errorf("state = %s, want %s", state, StateNoRecord)
	}

	if out := l.Apply(ctx, ActionCheckOut, "Dave"); out.Status != StatusNotCheckedIn {
		t.Errorf("check-out without check-in: %+v", out)
	}

	if out := l.Apply(ctx, ActionCheckIn, "Dave"); out.Status != StatusCheckedIn {
		t.Fatalf("check-in should fill the existing row: %+v", out)
	}
	records, _ := db.GetTodaysAttendance(ctx, "2024-01-01")
	if len(records) != 1 || records[0].CheckIn == nil {
		t.Fatalf("expected the row to gain a check-in, got %+v", records)
	}

	l.SetClock(clockAt("2024-01-01", "17:00:00"))
	if out := l.Apply(ctx, ActionCheckOut, "Dave"); out.Status != StatusCheckedOut {
		t.Errorf("check-out after check-in: %+v", out)
	}
}

func TestLedger_NewDayStartsFresh(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newTestStore(t))

	l.SetClock(clockAt("2024-01-01", "09:00:00"))
	if out := l.Apply(ctx, ActionCheckIn, "Carol"); out.Status != StatusCheckedIn {
		t.Fatalf("day one: %+v", out)
	}

	l.SetClock(clockAt("2024-01-02", "09:00:00"))
	if out := l.Apply(ctx, ActionCheckIn, "Carol"); out.Status != StatusCheckedIn {
		t.Errorf("day two should allow a new check-in: %+v", out)
	}
}

func TestLedger_WriteFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	l := NewLedger(&faultyStore{Store: newTestStore(t), failFor: map[string]error{"Bob": boom}})

	out := l.Apply(ctx, ActionCheckIn, "Bob")
	if out.Status != StatusError || !errors.Is(out.Err, boom) {
		t.Errorf("expected error outcome wrapping cause, got %+v", out)
	}
	if out.Success() {
		t.Error("error outcome must not count as success")
	}
}

func TestLedger_UnknownAction(t *testing.T) {
	l := NewLedger(newTestStore(t))
	out := l.Apply(context.Background(), Action("lunch"), "Bob")
	if out.Status != StatusError || out.Err == nil {
		t.Errorf("expected error outcome, got %+v", out)
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateNoRecord:   "no_record",
		StateCheckedIn:  "checked_in",
		StateCheckedOut: "checked_out",
		State(9):        "unknown",
	} {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}
