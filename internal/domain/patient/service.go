package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	repo    Repository
	cache   ListCache
	metrics Recorder
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithListCache(c ListCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		cache:   noopCache{},
		metrics: noopRecorder{},
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Admission --

// CreatePatient admits a new patient in the waiting state. The existence
// lookup gives a friendly error for the common case; the store's unique index
// on uhiNo is what actually prevents two concurrent admissions of the same
// identifier.
func (s *Service) CreatePatient(ctx context.Context, in NewPatient) (*Patient, error) {
	p, err := s.newRecord(in)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, p); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)
	s.metrics.PatientCreated(p.Redirection)
	s.logger.Info().Str("uhi_no", p.UHINo).Int("sl_no", p.SlNo).Msg("patient admitted")
	return p, nil
}

func (s *Service) newRecord(in NewPatient) (*Patient, error) {
	uhiNo := strings.TrimSpace(in.UHINo)
	name := strings.TrimSpace(in.PatientName)
	if uhiNo == "" {
		return nil, Validationf("uhiNo is required")
	}
	if name == "" {
		return nil, Validationf("patientName is required")
	}
	redirection := in.Redirection
	if redirection == "" {
		redirection = RedirectionObstetrics
	}
	if !redirection.Valid() {
		return nil, Validationf("redirection must be obstetrics or gynecology, got %q", in.Redirection)
	}
	now := s.now().UTC()
	return &Patient{
		UHINo:       uhiNo,
		PatientName: name,
		Redirection: redirection,
		Status:      StatusWaiting,
		Jaundice:    SeverityAbsent,
		Feet:        SeverityAbsent,
		Parameters:  []Parameter{},
		Notes:       []Note{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) insert(ctx context.Context, p *Patient) error {
	exists, err := s.repo.ExistsByUHINo(ctx, p.UHINo)
	if err != nil {
		return storeError("check uhiNo", err)
	}
	if exists {
		return DuplicateKeyf("patient with uhiNo %q already exists", p.UHINo)
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return storeError("count patients", err)
	}
	p.SlNo = count + 1
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return DuplicateKeyf("patient with uhiNo %q already exists", p.UHINo)
		}
		return storeError("create patient", err)
	}
	return nil
}

// ListByStatus returns every record in the given state, numbered from 1 in
// store order.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]ListedPatient, error) {
	if !status.Valid() {
		return nil, Validationf("status must be waiting or completed, got %q", status)
	}
	// The generation is read before the store so a write that lands during
	// the query retires this snapshot.
	patients, gen, ok := s.cache.GetList(ctx, status)
	if !ok {
		var err error
		patients, err = s.repo.ListByStatus(ctx, status)
		if err != nil {
			return nil, storeError("list patients", err)
		}
		s.cache.SetList(ctx, status, gen, patients)
	}
	return Number(patients), nil
}

// Number annotates records with their 1-based position.
func Number(patients []*Patient) []ListedPatient {
	out := make([]ListedPatient, len(patients))
	for i, p := range patients {
		out[i] = ListedPatient{Patient: p, DisplaySeq: i + 1}
	}
	return out
}

// BulkCreate admits every valid row. Rows without a uhiNo or name, and rows
// whose uhiNo already exists, are reported as failures without stopping the
// batch.
func (s *Service) BulkCreate(ctx context.Context, rows []BulkRow) (*BulkResult, error) {
	if len(rows) == 0 {
		return nil, Validationf("no rows to import")
	}

	res := &BulkResult{Inserted: []*Patient{}, Errors: []BulkRowError{}}
	for i, row := range rows {
		in := NewPatient{
			UHINo:       strings.TrimSpace(row.UHINo),
			PatientName: strings.TrimSpace(row.Name),
			Redirection: DepartmentFromString(row.Department),
		}
		p, err := s.newRecord(in)
		if err == nil {
			err = s.insert(ctx, p)
		}
		if err != nil {
			res.Errors = append(res.Errors, BulkRowError{
				Row:     i + 1,
				UHINo:   in.UHINo,
				Kind:    KindOf(err),
				Message: err.Error(),
			})
			continue
		}
		res.Inserted = append(res.Inserted, p)
	}

	res.InsertedCount = len(res.Inserted)
	res.FailedCount = len(res.Errors)
	switch {
	case res.FailedCount == 0:
		res.Outcome = BulkSuccess
	case res.InsertedCount == 0:
		res.Outcome = BulkFailed
	default:
		res.Outcome = BulkPartial
	}

	if res.InsertedCount > 0 {
		s.cache.Invalidate(ctx)
	}
	s.metrics.BulkImported(res.InsertedCount, res.FailedCount)
	s.logger.Info().
		Int("inserted", res.InsertedCount).
		Int("failed", res.FailedCount).
		Str("outcome", string(res.Outcome)).
		Msg("bulk import finished")
	return res, nil
}

// -- Lifecycle --

// MarkCompleted moves a waiting record to completed. Completing an already
// completed record succeeds without writing.
func (s *Service) MarkCompleted(ctx context.Context, uhiNo string) (*Patient, error) {
	uhiNo = strings.TrimSpace(uhiNo)
	if uhiNo == "" {
		return nil, Validationf("uhiNo is required")
	}
	p, err := s.repo.GetByUHINo(ctx, uhiNo)
	if err != nil {
		return nil, storeError("get patient", err)
	}
	if p.Status == StatusCompleted {
		return p, nil
	}
	p, err = s.repo.SetStatus(ctx, uhiNo, StatusCompleted)
	if err != nil {
		return nil, storeError("complete patient", err)
	}
	s.cache.Invalidate(ctx)
	s.metrics.StatusCompleted()
	s.logger.Info().Str("uhi_no", uhiNo).Msg("patient marked completed")
	return p, nil
}

// -- Clinical data --

// SaveVitals overwrites all vitals fields in one write. Nothing is written
// unless every required field is present.
func (s *Service) SaveVitals(ctx context.Context, id string, v Vitals) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validationf("patient id is required")
	}
	v, err := s.normalizeVitals(v)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.SetVitals(ctx, id, v)
	if err != nil {
		return nil, storeError("save vitals", err)
	}
	s.cache.Invalidate(ctx)
	s.metrics.VitalsSaved()
	s.logger.Debug().Str("uhi_no", p.UHINo).Msg("vitals saved")
	return p, nil
}

func (s *Service) normalizeVitals(v Vitals) (Vitals, error) {
	v.Temperature = strings.TrimSpace(v.Temperature)
	v.RespiratoryRate = strings.TrimSpace(v.RespiratoryRate)
	v.OxygenSaturation = strings.TrimSpace(v.OxygenSaturation)
	v.Weight = strings.TrimSpace(v.Weight)

	var missing []string
	if v.Temperature == "" {
		missing = append(missing, "temperature")
	}
	if v.RespiratoryRate == "" {
		missing = append(missing, "respiratoryRate")
	}
	if v.OxygenSaturation == "" {
		missing = append(missing, "oxygenSaturation")
	}
	if v.Weight == "" {
		missing = append(missing, "weight")
	}
	if len(missing) > 0 {
		return v, Validationf("missing required vitals: %s", strings.Join(missing, ", "))
	}

	if v.Jaundice == "" {
		v.Jaundice = SeverityAbsent
	}
	if v.Feet == "" {
		v.Feet = SeverityAbsent
	}
	if !v.Jaundice.Valid() {
		return v, Validationf("jaundice must be absent, mild or severe")
	}
	if !v.Feet.Valid() {
		return v, Validationf("feet must be absent, mild or severe")
	}
	if v.VisitDate == nil || v.VisitDate.IsZero() {
		now := s.now().UTC()
		v.VisitDate = &now
	}
	return v, nil
}

// AppendParameterMeasurement adds one reading to the patient's series for the
// given type. Earlier readings are never touched.
func (s *Service) AppendParameterMeasurement(ctx context.Context, id string, m Measurement) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validationf("patient id is required")
	}
	paramType := strings.TrimSpace(m.Type)
	if paramType == "" {
		return nil, Validationf("parameterType is required")
	}
	value, err := ParseMeasurement(paramType, m.Value)
	if err != nil {
		return nil, err
	}
	date := s.now().UTC()
	if m.Date != nil && !m.Date.IsZero() {
		date = m.Date.UTC()
	}
	r := Reading{
		Date:  date,
		Value: value,
		Unit:  strings.TrimSpace(m.Unit),
		Note:  strings.TrimSpace(m.Note),
	}
	p, err := s.repo.AppendReading(ctx, id, paramType, r)
	if err != nil {
		return nil, storeError("append measurement", err)
	}
	s.cache.Invalidate(ctx)
	s.metrics.ReadingAppended(paramType)
	s.logger.Debug().Str("uhi_no", p.UHINo).Str("parameter", paramType).Msg("measurement appended")
	return p, nil
}

func (s *Service) ListParameters(ctx context.Context, id string) ([]Parameter, error) {
	p, err := s.GetPatientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Parameters == nil {
		return []Parameter{}, nil
	}
	return p.Parameters, nil
}

func (s *Service) AppendNote(ctx context.Context, id, content string, importantPoints []string) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validationf("patient id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Validationf("note content is required")
	}
	points := make([]string, 0, len(importantPoints))
	for _, pt := range importantPoints {
		if pt = strings.TrimSpace(pt); pt != "" {
			points = append(points, pt)
		}
	}
	n := Note{Date: s.now().UTC(), Content: content, ImportantPoints: points}
	p, err := s.repo.AppendNote(ctx, id, n)
	if err != nil {
		return nil, storeError("append note", err)
	}
	s.cache.Invalidate(ctx)
	s.metrics.NoteAppended()
	return p, nil
}

func (s *Service) UpdateSummary(ctx context.Context, id, summary string) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validationf("patient id is required")
	}
	p, err := s.repo.SetSummary(ctx, id, strings.TrimSpace(summary))
	if err != nil {
		return nil, storeError("update summary", err)
	}
	s.cache.Invalidate(ctx)
	return p, nil
}

func (s *Service) UpdateIntake(ctx context.Context, uhiNo string, in Intake) (*Patient, error) {
	uhiNo = strings.TrimSpace(uhiNo)
	if uhiNo == "" {
		return nil, Validationf("uhiNo is required")
	}
	if in.Empty() {
		return nil, Validationf("nothing to update")
	}
	p, err := s.repo.SetIntake(ctx, uhiNo, in)
	if err != nil {
		return nil, storeError("update intake", err)
	}
	s.cache.Invalidate(ctx)
	return p, nil
}

// -- Reads --

func (s *Service) GetPatient(ctx context.Context, uhiNo string) (*Patient, error) {
	uhiNo = strings.TrimSpace(uhiNo)
	if uhiNo == "" {
		return nil, Validationf("uhiNo is required")
	}
	p, err := s.repo.GetByUHINo(ctx, uhiNo)
	if err != nil {
		return nil, storeError("get patient", err)
	}
	return p, nil
}

func (s *Service) GetPatientByID(ctx context.Context, id string) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validationf("patient id is required")
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get patient", err)
	}
	return p, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// storeError passes domain errors through and wraps everything else as unknown.
func storeError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unknown(op+" failed", err)
}
