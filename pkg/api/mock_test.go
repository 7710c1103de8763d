package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/employees"
	"github.com/MrCodeEU/faceattend/pkg/enrollment"
	"github.com/MrCodeEU/faceattend/pkg/store"
)

// MockEnroller implements Enroller for testing
type MockEnroller struct {
	EnrollFunc func(ctx context.Context, name string) (*enrollment.Result, error)
	names      []string
}

func (m *MockEnroller) Enroll(ctx context.Context, name string) (*enrollment.Result, error) {
	m.names = append(m.names, name)
	if m.EnrollFunc != nil {
		return m.EnrollFunc(ctx, name)
	}
	return &enrollment.Result{Employee: name, EmployeeID: 1, Samples: 10}, nil
}

// MockScanner implements Scanner for testing
type MockScanner struct {
	MarkFunc func(ctx context.Context, action attendance.Action) (*attendance.ScanResult, error)
	actions  []attendance.Action
	stops    int
}

func (m *MockScanner) Stop() { m.stops++ }

// MockShutter implements Shutter for testing
type MockShutter struct {
	fired int
}

func (m *MockShutter) Fire() { m.fired++ }

func (m *MockScanner) MarkAttendance(ctx context.Context, action attendance.Action) (*attendance.ScanResult, error) {
	m.actions = append(m.actions, action)
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx, action)
	}
	return &attendance.ScanResult{Action: action}, nil
}

// MockEmployees implements Employees for testing
type MockEmployees struct {
	ListFunc   func(ctx context.Context) ([]employees.Summary, error)
	DeleteFunc func(ctx context.Context, id uint) (*store.Employee, error)
	Faces      int
}

func (m *MockEmployees) List(ctx context.Context) ([]employees.Summary, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockEmployees) Delete(ctx context.Context, id uint) (*store.Employee, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil, store.ErrEmployeeNotFound
}

func (m *MockEmployees) FaceCount() int { return m.Faces }

type busyState bool

func (b busyState) Active() bool { return bool(b) }

// do sends a request through the server's router.
func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

// parseJSONResponse parses JSON response body into the given struct
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks that the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d; body: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks that the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	if ct := recorder.Header().Get("Content-Type"); ct != expected {
		t.Errorf("expected Content-Type %q, got %q", expected, ct)
	}
}
