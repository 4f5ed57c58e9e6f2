package patient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
)

func stubParser(rows []BulkRow, err error) RowParser {
	return func(io.Reader, string) ([]BulkRow, error) { return rows, err }
}

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc, stubParser(nil, errors.New("no parser")))
	e := echo.New()
	return h, e
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
	return he
}

func TestCreatePatient_Handler(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"uhiNo":"U100","patientName":"Jane Doe"}`), rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ID == "" || p.Status != StatusWaiting || p.SlNo != 1 {
		t.Errorf("unexpected record: %+v", p)
	}
}

func TestCreatePatient_HandlerErrors(t *testing.T) {
	h, e := newTestHandler()
	mustCreate(t, h.svc, "U100", "Jane Doe")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"uhiNo":`, http.StatusBadRequest},
		{"missing name", `{"uhiNo":"U1"}`, http.StatusBadRequest},
		{"duplicate", `{"uhiNo":"U100","patientName":"X"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(jsonRequest(http.MethodPost, tt.body), httptest.NewRecorder())
			expectHTTPError(t, h.CreatePatient(c), tt.code)
		})
	}
}

func TestListPatients_Handler(t *testing.T) {
	h, e := newTestHandler()
	mustCreate(t, h.svc, "U1", "A")
	mustCreate(t, h.svc, "U2", "B")

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 waiting, got %d", len(list))
	}
	if list[1]["displaySeq"] != float64(2) || list[1]["uhiNo"] != "U2" {
		t.Errorf("unexpected entry: %v", list[1])
	}

	req = httptest.NewRequest(http.MethodGet, "/patients?status=COMPLETED", nil)
	rec = httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty completed list, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/patients?status=archived", nil)
	expectHTTPError(t, h.ListPatients(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)
}

func TestGetPatient_HandlerNotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("uhiNo")
	c.SetParamValues("NOPE")
	expectHTTPError(t, h.GetPatient(c), http.StatusNotFound)
}

func TestMarkCompleted_Handler(t *testing.T) {
	h, e := newTestHandler()
	mustCreate(t, h.svc, "U100", "Jane Doe")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPut, "/", nil), rec)
	c.SetParamNames("uhiNo")
	c.SetParamValues("U100")
	if err := h.MarkCompleted(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", p.Status)
	}
}

func TestSaveVitals_Handler(t *testing.T) {
	h, e := newTestHandler()
	created := mustCreate(t, h.svc, "U1", "A")

	body := `{"temperature":"98.4","respiratoryRate":"16","oxygenSaturation":"98","weight":"60","jaundice":"mild"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.SaveVitals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Temperature != "98.4" || p.Jaundice != SeverityMild || p.Feet != SeverityAbsent {
		t.Errorf("unexpected vitals: %+v", VitalsOf(&p))
	}

	c = e.NewContext(jsonRequest(http.MethodPut, `{"temperature":"98.4"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	expectHTTPError(t, h.SaveVitals(c), http.StatusBadRequest)
}

func TestAppendParameter_HandlerValueShapes(t *testing.T) {
	h, e := newTestHandler()
	created := mustCreate(t, h.svc, "U1", "A")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"string bp", `{"parameterType":"Blood Pressure","value":"120/80"}`, http.StatusCreated},
		{"object bp", `{"parameterType":"Blood Pressure","value":{"systolic":118,"diastolic":76}}`, http.StatusCreated},
		{"number", `{"parameterType":"Hemoglobin","value":11.5,"unit":"g/dL"}`, http.StatusCreated},
		{"numeric string", `{"parameterType":"Glucose","value":"92"}`, http.StatusCreated},
		{"bad bp", `{"parameterType":"Blood Pressure","value":"120"}`, http.StatusBadRequest},
		{"bad number", `{"parameterType":"AFI","value":"lots"}`, http.StatusBadRequest},
		{"missing value", `{"parameterType":"AFI"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPost, tt.body), rec)
			c.SetParamNames("id")
			c.SetParamValues(created.ID)
			err := h.AppendParameter(c)
			if tt.code == http.StatusCreated {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.Code != http.StatusCreated {
					t.Errorf("expected 201, got %d", rec.Code)
				}
				return
			}
			expectHTTPError(t, err, tt.code)
		})
	}

	params, err := h.svc.ListParameters(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var bp *Parameter
	for i := range params {
		if params[i].Type == ParamBloodPressure {
			bp = &params[i]
		}
	}
	if bp == nil || len(bp.Values) != 2 {
		t.Fatalf("expected two blood pressure readings, got %+v", params)
	}
	if bp.Values[1].Value.String() != "118/76" {
		t.Errorf("expected 118/76, got %s", bp.Values[1].Value)
	}
}

func TestAppendNote_Handler(t *testing.T) {
	h, e := newTestHandler()
	created := mustCreate(t, h.svc, "U1", "A")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"content":"Start iron supplements"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.AppendNote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"importantPoints":[]`) {
		t.Errorf("expected empty importantPoints list, got %s", rec.Body.String())
	}
}

func TestBulkCreate_HandlerStatuses(t *testing.T) {
	h, e := newTestHandler()
	mustCreate(t, h.svc, "U100", "Jane Doe")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"success", `{"patients":[{"uhino":"B1","name":"A"}]}`, http.StatusCreated},
		{"partial", `{"patients":[{"uhino":"U100","name":"Jane Doe"},{"uhino":"U200","name":"Ann","department":"gynecology"}]}`, http.StatusMultiStatus},
		{"failed", `{"patients":[{"uhino":"","name":"A"}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := h.BulkCreate(e.NewContext(jsonRequest(http.MethodPost, tt.body), rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}

	c := e.NewContext(jsonRequest(http.MethodPost, `{"patients":[]}`), httptest.NewRecorder())
	expectHTTPError(t, h.BulkCreate(c), http.StatusBadRequest)
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := w.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(content)
	}
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/patients/import", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestImportSpreadsheet_Handler(t *testing.T) {
	svc, _ := newTestService()
	var gotName string
	h := NewHandler(svc, func(r io.Reader, filename string) ([]BulkRow, error) {
		gotName = filename
		return []BulkRow{{UHINo: "X1", Name: "A"}, {UHINo: "X2", Name: "B"}}, nil
	})
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(multipartUpload(t, "file", "admissions.xlsx", []byte("xlsx-bytes")), rec)
	if err := h.ImportSpreadsheet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if gotName != "admissions.xlsx" {
		t.Errorf("expected filename to reach the parser, got %q", gotName)
	}
	var res BulkResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.InsertedCount != 2 {
		t.Errorf("expected 2 inserted, got %d", res.InsertedCount)
	}
}

func TestImportSpreadsheet_HandlerErrors(t *testing.T) {
	h, e := newTestHandler()

	c := e.NewContext(multipartUpload(t, "", "", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ImportSpreadsheet(c), http.StatusBadRequest)

	c = e.NewContext(multipartUpload(t, "file", "notes.doc", []byte("x")), httptest.NewRecorder())
	he := expectHTTPError(t, h.ImportSpreadsheet(c), http.StatusBadRequest)
	if he.Message != "no parser" {
		t.Errorf("expected parser error to surface, got %v", he.Message)
	}
}

func TestUpdateIntake_Handler(t *testing.T) {
	h, e := newTestHandler()
	mustCreate(t, h.svc, "U1", "A")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"maternalHealth":{"gestationalAge":24,"placentaPosition":"anterior"}}`), rec)
	c.SetParamNames("uhiNo")
	c.SetParamValues("U1")
	if err := h.UpdateIntake(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.MaternalHealth == nil || *p.MaternalHealth.GestationalAge != 24 {
		t.Errorf("unexpected maternal health: %+v", p.MaternalHealth)
	}
}

func TestUpdateSummary_Handler(t *testing.T) {
	h, e := newTestHandler()
	created := mustCreate(t, h.svc, "U1", "A")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"summary":"Stable, review at 28 weeks"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.UpdateSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "review at 28 weeks") {
		t.Errorf("expected summary in body, got %s", rec.Body.String())
	}
}

func TestHandlers_StripControlCharacters(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"uhiNo":" U7\u0000 ","patientName":"Jane\u0007 Doe"}`), rec)
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var created Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.UHINo != "U7" || created.PatientName != "Jane Doe" {
		t.Errorf("expected cleaned identity, got %q / %q", created.UHINo, created.PatientName)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, `{"content":"Iron\u0000 daily\nrecheck Hb","importantPoints":["\u001bfasting"]}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.AppendNote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var noted Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &noted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	n := noted.Notes[len(noted.Notes)-1]
	if n.Content != "Iron daily\nrecheck Hb" || len(n.ImportantPoints) != 1 || n.ImportantPoints[0] != "fasting" {
		t.Errorf("unexpected note %+v", n)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, `{"summary":"  Stable\u0000  "}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.UpdateSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var summarized Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &summarized); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summarized.Summary != "Stable" {
		t.Errorf("expected cleaned summary, got %q", summarized.Summary)
	}
}

func TestRegisterRoutes_RoleChecks(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
			ctx := auth.WithUser(c.Request().Context(), "tester", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)
	created := mustCreate(t, h.svc, "U1", "A")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		roles  string
		code   int
	}{
		{"front desk lists", http.MethodGet, "/api/v1/patients", "", "front_desk", http.StatusOK},
		{"front desk admits", http.MethodPost, "/api/v1/patients", `{"uhiNo":"U2","patientName":"B"}`, "front_desk", http.StatusCreated},
		{"doctor cannot admit", http.MethodPost, "/api/v1/patients", `{"uhiNo":"U3","patientName":"C"}`, "doctor", http.StatusForbidden},
		{"front desk cannot take notes", http.MethodPost, "/api/v1/patients/id/" + created.ID + "/notes", `{"content":"x"}`, "front_desk", http.StatusForbidden},
		{"doctor takes notes", http.MethodPost, "/api/v1/patients/id/" + created.ID + "/notes", `{"content":"x"}`, "doctor", http.StatusCreated},
		{"nurse saves vitals", http.MethodPut, "/api/v1/patients/id/" + created.ID + "/vitals", `{"temperature":"98","respiratoryRate":"18","oxygenSaturation":"99","weight":"60"}`, "nurse", http.StatusOK},
		{"admin completes", http.MethodPut, "/api/v1/patients/U1/complete", "", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.Header.Set("X-Test-Roles", tt.roles)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[ErrorKind]int{
		KindValidation:   http.StatusBadRequest,
		KindDuplicateKey: http.StatusConflict,
		KindNotFound:     http.StatusNotFound,
		KindAuthExpired:  http.StatusUnauthorized,
		KindUnknown:      http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := StatusFor(kind); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}
