package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/middleware"
)

// maxImportSize caps spreadsheet uploads.
const maxImportSize = 10 << 20

// RowParser turns an uploaded spreadsheet into bulk rows.
type RowParser func(r io.Reader, filename string) ([]BulkRow, error)

type Handler struct {
	svc   *Service
	parse RowParser
}

func NewHandler(svc *Service, parse RowParser) *Handler {
	return &Handler{svc: svc, parse: parse}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every clinical role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleFrontDesk))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:uhiNo", h.GetPatient)
	readGroup.GET("/patients/id/:id/parameters", h.ListParameters)

	// Admission – front desk and nurses
	admitGroup := api.Group("", auth.RequireRole(auth.RoleFrontDesk, auth.RoleNurse))
	admitGroup.POST("/patients", h.CreatePatient)
	admitGroup.POST("/patients/bulk", h.BulkCreate)
	admitGroup.POST("/patients/import", h.ImportSpreadsheet)
	admitGroup.PUT("/patients/:uhiNo/intake", h.UpdateIntake)

	// Clinical writes – doctors and nurses
	clinicalGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinicalGroup.PUT("/patients/:uhiNo/complete", h.MarkCompleted)
	clinicalGroup.PUT("/patients/id/:id/vitals", h.SaveVitals)
	clinicalGroup.POST("/patients/id/:id/parameters", h.AppendParameter)

	// Doctor's notes
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/patients/id/:id/notes", h.AppendNote)
	doctorGroup.PUT("/patients/id/:id/summary", h.UpdateSummary)
}

// -- Admission --

func (h *Handler) CreatePatient(c echo.Context) error {
	var in NewPatient
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.UHINo = middleware.SanitizeString(in.UHINo)
	in.PatientName = middleware.SanitizeString(in.PatientName)
	p, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type bulkRequest struct {
	Patients []BulkRow `json:"patients"`
}

func (h *Handler) BulkCreate(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.bulk(c, req.Patients)
}

// ImportSpreadsheet accepts a multipart upload in the "file" field.
func (h *Handler) ImportSpreadsheet(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > maxImportSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer f.Close()

	rows, err := h.parse(f, filepath.Base(fh.Filename))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.bulk(c, rows)
}

func (h *Handler) bulk(c echo.Context, rows []BulkRow) error {
	res, err := h.svc.BulkCreate(c.Request().Context(), rows)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(bulkStatus(res.Outcome), res)
}

func bulkStatus(o BulkOutcome) int {
	switch o {
	case BulkPartial:
		return http.StatusMultiStatus
	case BulkFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusCreated
}

func (h *Handler) UpdateIntake(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdateIntake(c.Request().Context(), c.Param("uhiNo"), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Listing and reads --

func (h *Handler) ListPatients(c echo.Context) error {
	status := Status(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	if status == "" {
		status = StatusWaiting
	}
	patients, err := h.svc.ListByStatus(c.Request().Context(), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("uhiNo"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListParameters(c echo.Context) error {
	params, err := h.svc.ListParameters(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, params)
}

// -- Clinical --

func (h *Handler) MarkCompleted(c echo.Context) error {
	p, err := h.svc.MarkCompleted(c.Request().Context(), c.Param("uhiNo"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SaveVitals(c echo.Context) error {
	var v Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.SaveVitals(c.Request().Context(), c.Param("id"), v)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// AppendParameter accepts the value either as the raw string typed by the
// user or as an already structured number / {systolic, diastolic} object.
func (h *Handler) AppendParameter(c echo.Context) error {
	var req measurementRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := req.toMeasurement()
	if err != nil {
		return httpError(err)
	}
	p, err := h.svc.AppendParameterMeasurement(c.Request().Context(), c.Param("id"), m)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type measurementRequest struct {
	Type  string          `json:"parameterType"`
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit"`
	Note  string          `json:"note"`
	Date  *time.Time      `json:"date"`
}

func (r measurementRequest) toMeasurement() (Measurement, error) {
	m := Measurement{Type: r.Type, Unit: r.Unit, Note: r.Note, Date: r.Date}
	raw := strings.TrimSpace(string(r.Value))
	switch {
	case raw == "" || raw == "null":
	case raw[0] == '"':
		if err := json.Unmarshal(r.Value, &m.Value); err != nil {
			return m, Validationf("invalid value")
		}
	case raw[0] == '{':
		var bp BloodPressure
		if err := json.Unmarshal(r.Value, &bp); err != nil {
			return m, Validationf("invalid format: expected systolic/diastolic")
		}
		m.Value = fmt.Sprintf("%d/%d", bp.Systolic, bp.Diastolic)
	default:
		m.Value = raw
	}
	return m, nil
}

type noteRequest struct {
	Content         string   `json:"content"`
	ImportantPoints []string `json:"importantPoints"`
}

func (h *Handler) AppendNote(c echo.Context) error {
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for i, pt := range req.ImportantPoints {
		req.ImportantPoints[i] = middleware.SanitizeString(pt)
	}
	p, err := h.svc.AppendNote(c.Request().Context(), c.Param("id"), middleware.SanitizeString(req.Content), req.ImportantPoints)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type summaryRequest struct {
	Summary string `json:"summary"`
}

func (h *Handler) UpdateSummary(c echo.Context) error {
	var req summaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdateSummary(c.Request().Context(), c.Param("id"), middleware.SanitizeString(req.Summary))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateKey:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthExpired:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func httpError(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	he := echo.NewHTTPError(StatusFor(e.Kind), e.Message)
	if e.Err != nil {
		he = he.SetInternal(e.Err)
	}
	return he
}
