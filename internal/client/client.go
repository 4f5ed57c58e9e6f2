// Package client is a typed REST client for the record API. It is used by the
// workflow package and the import command.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/domain/reports"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/middleware"
)

// CredentialProvider supplies the bearer token for each call. Invalidate is
// called by the session owner once the server rejects the token.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken is a CredentialProvider holding one token in memory.
type StaticToken struct {
	mu    sync.RWMutex
	token string
}

func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: token}
}

func (s *StaticToken) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *StaticToken) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *StaticToken) Invalidate() { s.Set("") }

type Client struct {
	http   *resty.Client
	creds  CredentialProvider
	logger zerolog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client for the API rooted at baseURL (e.g.
// "http://localhost:8000"). Calls are never retried.
func New(baseURL string, creds CredentialProvider, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")+"/api/v1").
			SetTimeout(30*time.Second).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		creds:  creds,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials exposes the provider so a session can invalidate or replace
// the token.
func (c *Client) Credentials() CredentialProvider {
	return c.creds
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, &patient.Error{Kind: patient.KindAuthExpired, Message: "no credential available", Err: err}
	}
	if token == "" {
		return nil, &patient.Error{Kind: patient.KindAuthExpired, Message: "not signed in"}
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

// do sends req and decodes a 2xx body into out. okStatus lists extra
// non-2xx statuses whose body is still a result rather than an error.
func (c *Client) do(req *resty.Request, method, path string, out any, okStatus ...int) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return patient.Unknown("request cancelled", err)
		}
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("record api call failed")
		return patient.Unknown("record service unreachable", err)
	}

	status := resp.StatusCode()
	ok := status >= 200 && status < 300
	for _, s := range okStatus {
		ok = ok || status == s
	}
	if !ok {
		return decodeError(resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return patient.Unknown("invalid response from record service", err)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	status := resp.StatusCode()
	var body middleware.ErrorBody
	_ = json.Unmarshal(resp.Body(), &body)

	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	kind := patient.ErrorKind(body.Error.Kind)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = patient.KindAuthExpired
	}
	switch kind {
	case patient.KindValidation, patient.KindDuplicateKey, patient.KindNotFound, patient.KindAuthExpired:
	default:
		kind = patient.ErrorKind(middleware.KindForStatus(status))
	}
	return &patient.Error{Kind: kind, Message: msg}
}

// -- Patients --

func (c *Client) CreatePatient(ctx context.Context, in patient.NewPatient) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req.SetBody(in), http.MethodPost, "/patients", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPatients(ctx context.Context, status patient.Status) ([]patient.ListedPatient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	out := []patient.ListedPatient{}
	if err := c.do(req.SetQueryParam("status", string(status)), http.MethodGet, "/patients", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPatient(ctx context.Context, uhiNo string) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req, http.MethodGet, "/patients/"+url.PathEscape(uhiNo), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkCreate returns the per-row result for partial and failed imports too;
// only transport and request-level failures are errors.
func (c *Client) BulkCreate(ctx context.Context, rows []patient.BulkRow) (*patient.BulkResult, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.BulkResult
	body := map[string][]patient.BulkRow{"patients": rows}
	if err := c.do(req.SetBody(body), http.MethodPost, "/patients/bulk", &out, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportFile uploads a spreadsheet for server-side parsing.
func (c *Client) ImportFile(ctx context.Context, filename string, content io.Reader) (*patient.BulkResult, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.BulkResult
	req = req.SetFileReader("file", filename, content)
	if err := c.do(req, http.MethodPost, "/patients/import", &out, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkCompleted(ctx context.Context, uhiNo string) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req, http.MethodPut, "/patients/"+url.PathEscape(uhiNo)+"/complete", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateIntake(ctx context.Context, uhiNo string, in patient.Intake) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req.SetBody(in), http.MethodPut, "/patients/"+url.PathEscape(uhiNo)+"/intake", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SaveVitals(ctx context.Context, id string, v patient.Vitals) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req.SetBody(v), http.MethodPut, "/patients/id/"+url.PathEscape(id)+"/vitals", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AppendParameter(ctx context.Context, id string, m patient.Measurement) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	if err := c.do(req.SetBody(m), http.MethodPost, "/patients/id/"+url.PathEscape(id)+"/parameters", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListParameters(ctx context.Context, id string) ([]patient.Parameter, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	out := []patient.Parameter{}
	if err := c.do(req, http.MethodGet, "/patients/id/"+url.PathEscape(id)+"/parameters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AppendNote(ctx context.Context, id, content string, importantPoints []string) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if importantPoints == nil {
		importantPoints = []string{}
	}
	body := map[string]any{"content": content, "importantPoints": importantPoints}
	var out patient.Patient
	if err := c.do(req.SetBody(body), http.MethodPost, "/patients/id/"+url.PathEscape(id)+"/notes", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSummary(ctx context.Context, id, summary string) (*patient.Patient, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out patient.Patient
	body := map[string]string{"summary": summary}
	if err := c.do(req.SetBody(body), http.MethodPut, "/patients/id/"+url.PathEscape(id)+"/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Reports --

func (c *Client) ListReports(ctx context.Context, uhiNo string) ([]reports.Report, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	out := []reports.Report{}
	if err := c.do(req, http.MethodGet, "/patients/"+url.PathEscape(uhiNo)+"/reports", &out); err != nil {
		return nil, err
	}
	return out, nil
}
