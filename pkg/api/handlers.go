package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/MrCodeEU/faceattend/pkg/store"
	"github.com/go-chi/chi/v5"
)

// Display layouts for dates and times in dashboard and report rows.
const (
	displayDate = "02-Jan-2006"
	displayTime = "03:04:05 PM"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// RecordView is an attendance record formatted for display.
type RecordView struct {
	ID       uint   `json:"id"`
	Employee string `json:"employee_name"`
	Date     string `json:"date"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

// DashboardResponse is today's attendance plus the registry size.
type DashboardResponse struct {
	Date       string       `json:"date"`
	Attendance []RecordView `json:"attendance"`
	TotalFaces int          `json:"total_faces"`
	Busy       bool         `json:"busy"`
}

type enrollRequest struct {
	Name string `json:"name"`
}

type attendanceRequest struct {
	Action string `json:"action"`
}

func viewRecord(r store.AttendanceRecord) RecordView {
	v := RecordView{ID: r.ID, Employee: r.EmployeeName, Date: r.Date}
	if d, err := time.Parse(store.DateFormat, r.Date); err == nil {
		v.Date = d.Format(displayDate)
	}
	if r.CheckIn != nil {
		v.CheckIn = r.CheckIn.Format(displayTime)
	}
	if r.CheckOut != nil {
		v.CheckOut = r.CheckOut.Format(displayTime)
	}
	return v
}

func viewRecords(rows []store.AttendanceRecord) []RecordView {
	out := make([]RecordView, 0, len(rows))
	for _, r := range rows {
		out = append(out, viewRecord(r))
	}
	return out
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Records.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	today := s.deps.Now()
	rows, err := s.deps.Records.GetTodaysAttendance(r.Context(), today.Format(store.DateFormat))
	if err != nil {
		logging.Component("api").WithError(err).Error("failed to load today's attendance")
		respondError(w, http.StatusInternalServerError, "failed to load attendance")
		return
	}

	resp := DashboardResponse{
		Date:       today.Format(displayDate),
		Attendance: viewRecords(rows),
		TotalFaces: s.deps.Employees.FaceCount(),
	}
	if s.deps.Sessions != nil {
		resp.Busy = s.deps.Sessions.Active()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) listEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Employees.List(r.Context())
	if err != nil {
		logging.Component("api").WithError(err).Error("failed to list employees")
		respondError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Enroller.Enroll(r.Context(), req.Name)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) deleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	emp, err := s.deps.Employees.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrEmployeeNotFound) {
			respondError(w, http.StatusNotFound, "employee not found")
			return
		}
		logging.Component("api").WithError(err).WithField("id", id).Error("failed to delete employee")
		respondError(w, http.StatusInternalServerError, "failed to delete employee")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": emp.Name, "id": emp.ID})
}

func (s *Server) markAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := attendance.ParseAction(req.Action)
	if err != nil {
		respondError(w, http.StatusBadRequest, "action must be checkin or checkout")
		return
	}

	res, err := s.deps.Scanner.MarkAttendance(r.Context(), action)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// captureSample takes the next sample of the running enrollment without
// waiting for the auto-accept interval.
func (s *Server) captureSample(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Sessions.Active() {
		respondError(w, http.StatusConflict, "no capture in progress")
		return
	}
	s.deps.Shutter.Fire()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "capture requested"})
}

// stopScan ends the running attendance scan. The blocked attendance
// request then returns the outcomes for the employees seen so far.
func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Sessions.Active() {
		respondError(w, http.StatusConflict, "no capture in progress")
		return
	}
	s.deps.Scanner.Stop()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, d := range []string{from, to} {
		if _, err := time.Parse(store.DateFormat, d); err != nil {
			respondError(w, http.StatusBadRequest, "from and to must be dates in YYYY-MM-DD format")
			return
		}
	}
	if from > to {
		respondError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	rows, err := s.deps.Records.GetAttendanceBetweenDates(r.Context(), from, to)
	if err != nil {
		logging.Component("api").WithError(err).Error("failed to load report")
		respondError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"records": viewRecords(rows),
	})
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Records.DeleteAttendanceRecord(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "attendance record not found")
			return
		}
		logging.Component("api").WithError(err).WithField("id", id).Error("failed to delete attendance record")
		respondError(w, http.StatusInternalServerError, "failed to delete attendance record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Images.Path(chi.URLParam(r, "name"), chi.URLParam(r, "file"))
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		respondError(w, http.StatusBadRequest, "invalid image path")
		return
	case err != nil:
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, path)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// statusFor maps session error codes to HTTP statuses.
var statusFor = map[session.ErrorCode]int{
	session.ErrCodeValidation:          http.StatusBadRequest,
	session.ErrCodeDuplicateFace:       http.StatusConflict,
	session.ErrCodeBusy:                http.StatusLocked,
	session.ErrCodeNoFace:              http.StatusUnprocessableEntity,
	session.ErrCodeInsufficientSamples: http.StatusUnprocessableEntity,
	session.ErrCodeCapture:             http.StatusServiceUnavailable,
	session.ErrCodePersistence:         http.StatusInternalServerError,
	session.ErrCodeCancelled:           http.StatusRequestTimeout,
}

func respondSessionError(w http.ResponseWriter, err error) {
	var se *session.Error
	if !errors.As(err, &se) {
		logging.Component("api").WithError(err).Error("unexpected session failure")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status, ok := statusFor[se.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logging.Component("api").WithError(err).WithField("code", se.Code).Error("session failed")
	}
	respondJSON(w, status, ErrorResponse{
		Error:    se.Message,
		Code:     string(se.Code),
		Identity: se.Identity,
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Component("api").WithError(err).Warn("failed to encode response")
		}
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
