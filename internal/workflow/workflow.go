// Package workflow drives the front-desk and ward screens of the outpatient
// client: admitting patients, capturing vitals, completing visits and
// recording test parameters. It talks to the record API through API and
// keeps a local copy of the dashboard listings, merging the records that
// mutations return instead of re-listing after every change.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/domain/reports"
)

type Screen string

const (
	ScreenAuth       Screen = "auth"
	ScreenDashboard  Screen = "dashboard"
	ScreenAddPatient Screen = "addPatient"
	ScreenVitalInfo  Screen = "vitalInfo"
	ScreenReportView Screen = "reportView"
	ScreenTestsView  Screen = "testsView"
)

var (
	// ErrBusy is returned while another action of the same session is still
	// waiting on the record API.
	ErrBusy = errors.New("workflow: another action is in progress")

	ErrInvalidTransition = errors.New("workflow: action not available on this screen")
	ErrNoSelection       = errors.New("workflow: no patient selected")
)

// API is the slice of the record API the workflow needs. *client.Client
// implements it.
type API interface {
	CreatePatient(ctx context.Context, in patient.NewPatient) (*patient.Patient, error)
	ListPatients(ctx context.Context, status patient.Status) ([]patient.ListedPatient, error)
	MarkCompleted(ctx context.Context, uhiNo string) (*patient.Patient, error)
	SaveVitals(ctx context.Context, id string, v patient.Vitals) (*patient.Patient, error)
	AppendParameter(ctx context.Context, id string, m patient.Measurement) (*patient.Patient, error)
	ListReports(ctx context.Context, uhiNo string) ([]reports.Report, error)
}

// Credentials holds the session's bearer token. *client.StaticToken
// implements it.
type Credentials interface {
	Set(token string)
	Invalidate()
}

type AddPatientForm struct {
	UHINo       string
	PatientName string
	Redirection patient.Redirection
}

func defaultAddForm() AddPatientForm {
	return AddPatientForm{Redirection: patient.RedirectionObstetrics}
}

type VitalsForm struct {
	PatientID string
	UHINo     string
	Vitals    patient.Vitals
}

// State is a snapshot of the session. Slices in a snapshot are never
// modified by the workflow afterwards.
type State struct {
	Screen        Screen
	ShowCompleted bool
	Waiting       []patient.ListedPatient
	Completed     []patient.ListedPatient
	AddForm       AddPatientForm
	VitalsForm    VitalsForm
	Selected      *patient.Patient
	Reports       []reports.Report
	LastError     error
}

// Active returns the listing the dashboard is currently showing.
func (s State) Active() []patient.ListedPatient {
	if s.ShowCompleted {
		return s.Completed
	}
	return s.Waiting
}

func initialState() State {
	return State{
		Screen:    ScreenAuth,
		Waiting:   []patient.ListedPatient{},
		Completed: []patient.ListedPatient{},
		AddForm:   defaultAddForm(),
	}
}

type Option func(*Workflow)

func WithLogger(l zerolog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// Workflow is one client session. Actions are serialized: while one is
// pending every other action fails with ErrBusy, while State stays readable.
type Workflow struct {
	api    API
	creds  Credentials
	logger zerolog.Logger
	now    func() time.Time

	busy atomic.Bool

	mu sync.Mutex
	st State
}

// New returns a session on the auth screen. Call Login to reach the
// dashboard.
func New(api API, creds Credentials, opts ...Option) *Workflow {
	w := &Workflow{
		api:    api,
		creds:  creds,
		logger: zerolog.Nop(),
		now:    time.Now,
		st:     initialState(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st
}

// Busy reports whether an action is waiting on the record API.
func (w *Workflow) Busy() bool {
	return w.busy.Load()
}

func (w *Workflow) begin(action string, allowed ...Screen) (func(), error) {
	if !w.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	w.mu.Lock()
	screen := w.st.Screen
	w.mu.Unlock()
	if !slices.Contains(allowed, screen) {
		w.busy.Store(false)
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, screen)
	}
	return func() { w.busy.Store(false) }, nil
}

func (w *Workflow) update(fn func(st *State)) {
	w.mu.Lock()
	fn(&w.st)
	w.mu.Unlock()
}

// fail records err against the current screen. An expired credential ends
// the session; a stale reference reloads the active listing.
func (w *Workflow) fail(ctx context.Context, action string, err error) error {
	switch patient.KindOf(err) {
	case patient.KindAuthExpired:
		w.expire(action, err)
		return err
	case patient.KindNotFound:
		w.update(func(st *State) { st.LastError = err })
		if rerr := w.reload(ctx); rerr != nil {
			if patient.KindOf(rerr) == patient.KindAuthExpired {
				w.expire(action, rerr)
				return rerr
			}
			w.logger.Warn().Err(rerr).Str("action", action).Msg("listing reload failed")
		}
		return err
	}
	w.logger.Debug().Err(err).Str("action", action).Msg("action failed")
	w.update(func(st *State) { st.LastError = err })
	return err
}

func (w *Workflow) expire(action string, err error) {
	w.creds.Invalidate()
	w.update(func(st *State) {
		*st = initialState()
		st.LastError = err
	})
	w.logger.Info().Str("action", action).Msg("session expired, sign in again")
}

// reload fetches the active listing and replaces the local copy.
func (w *Workflow) reload(ctx context.Context) error {
	w.mu.Lock()
	status := patient.StatusWaiting
	if w.st.ShowCompleted {
		status = patient.StatusCompleted
	}
	w.mu.Unlock()

	list, err := w.api.ListPatients(ctx, status)
	if err != nil {
		return err
	}
	list = slices.Clone(list)
	w.update(func(st *State) {
		if status == patient.StatusCompleted {
			st.Completed = list
		} else {
			st.Waiting = list
		}
	})
	return nil
}

// Login stores token and opens the dashboard on the waiting list.
func (w *Workflow) Login(ctx context.Context, token string) error {
	done, err := w.begin("login", ScreenAuth)
	if err != nil {
		return err
	}
	defer done()

	if token == "" {
		return w.fail(ctx, "login", patient.Validationf("token is required"))
	}
	w.creds.Set(token)
	w.update(func(st *State) {
		*st = initialState()
		st.Screen = ScreenDashboard
	})
	if err := w.reload(ctx); err != nil {
		return w.fail(ctx, "login", err)
	}
	return nil
}

// Logout drops the credential and returns to the auth screen from anywhere.
func (w *Workflow) Logout() error {
	done, err := w.begin("logout", ScreenDashboard, ScreenAddPatient, ScreenVitalInfo, ScreenReportView, ScreenTestsView)
	if err != nil {
		return err
	}
	defer done()
	w.creds.Invalidate()
	w.update(func(st *State) { *st = initialState() })
	return nil
}

// Refresh re-fetches the active listing.
func (w *Workflow) Refresh(ctx context.Context) error {
	done, err := w.begin("refresh", ScreenDashboard)
	if err != nil {
		return err
	}
	defer done()
	if err := w.reload(ctx); err != nil {
		return w.fail(ctx, "refresh", err)
	}
	w.update(func(st *State) { st.LastError = nil })
	return nil
}

func (w *Workflow) OpenAddPatient() error {
	done, err := w.begin("open add patient", ScreenDashboard)
	if err != nil {
		return err
	}
	defer done()
	w.update(func(st *State) {
		st.Screen = ScreenAddPatient
		st.AddForm = defaultAddForm()
		st.LastError = nil
	})
	return nil
}

func (w *Workflow) EditAddPatient(f AddPatientForm) error {
	done, err := w.begin("edit add patient", ScreenAddPatient)
	if err != nil {
		return err
	}
	defer done()
	w.update(func(st *State) { st.AddForm = f })
	return nil
}

// SaveNewPatient submits the add-patient form. On failure the form and the
// screen are kept so the user can correct it.
func (w *Workflow) SaveNewPatient(ctx context.Context) (*patient.Patient, error) {
	done, err := w.begin("save new patient", ScreenAddPatient)
	if err != nil {
		return nil, err
	}
	defer done()

	form := w.State().AddForm
	p, err := w.api.CreatePatient(ctx, patient.NewPatient{
		UHINo:       form.UHINo,
		PatientName: form.PatientName,
		Redirection: form.Redirection,
	})
	if err != nil {
		return nil, w.fail(ctx, "save new patient", err)
	}

	w.update(func(st *State) {
		st.Waiting = upsert(st.Waiting, p)
		st.Screen = ScreenDashboard
		st.AddForm = defaultAddForm()
		st.LastError = nil
	})
	w.logger.Info().Str("uhi_no", p.UHINo).Msg("patient admitted")
	return p, nil
}

func (w *Workflow) CancelAddPatient() error {
	done, err := w.begin("cancel add patient", ScreenAddPatient)
	if err != nil {
		return err
	}
	defer done()
	w.update(func(st *State) {
		st.Screen = ScreenDashboard
		st.AddForm = defaultAddForm()
		st.LastError = nil
	})
	return nil
}

// OpenVitals opens the vitals form for p, pre-filled from the record. An
// unset visit date becomes today and unset severities become absent.
func (w *Workflow) OpenVitals(p *patient.Patient) error {
	done, err := w.begin("open vitals", ScreenDashboard)
	if err != nil {
		return err
	}
	defer done()
	if p == nil {
		return ErrNoSelection
	}

	v := patient.VitalsOf(p)
	if v.VisitDate == nil {
		today := w.today()
		v.VisitDate = &today
	}
	if v.Jaundice == "" {
		v.Jaundice = patient.SeverityAbsent
	}
	if v.Feet == "" {
		v.Feet = patient.SeverityAbsent
	}

	w.update(func(st *State) {
		st.Screen = ScreenVitalInfo
		st.Selected = p
		st.VitalsForm = VitalsForm{PatientID: p.ID, UHINo: p.UHINo, Vitals: v}
		st.LastError = nil
	})
	return nil
}

func (w *Workflow) today() time.Time {
	now := w.now()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (w *Workflow) EditVitals(v patient.Vitals) error {
	done, err := w.begin("edit vitals", ScreenVitalInfo)
	if err != nil {
		return err
	}
	defer done()
	w.update(func(st *State) { st.VitalsForm.Vitals = v })
	return nil
}

// SaveVitals submits the vitals form and returns to the dashboard with the
// saved record merged into the listings.
func (w *Workflow) SaveVitals(ctx context.Context) (*patient.Patient, error) {
	done, err := w.begin("save vitals", ScreenVitalInfo)
	if err != nil {
		return nil, err
	}
	defer done()

	form := w.State().VitalsForm
	p, err := w.api.SaveVitals(ctx, form.PatientID, form.Vitals)
	if err != nil {
		return nil, w.fail(ctx, "save vitals", err)
	}

	w.update(func(st *State) {
		st.Waiting = replace(st.Waiting, p)
		st.Completed = replace(st.Completed, p)
		st.Screen = ScreenDashboard
		st.Selected = nil
		st.VitalsForm = VitalsForm{}
		st.LastError = nil
	})
	return p, nil
}

// ToggleCompletedView switches between the waiting and completed listings
// and always fetches the one being shown. If the fetch fails the previous
// view stays active.
func (w *Workflow) ToggleCompletedView(ctx context.Context) error {
	done, err := w.begin("toggle completed view", ScreenDashboard)
	if err != nil {
		return err
	}
	defer done()

	w.update(func(st *State) { st.ShowCompleted = !st.ShowCompleted })
	if err := w.reload(ctx); err != nil {
		if patient.KindOf(err) != patient.KindAuthExpired {
			w.update(func(st *State) { st.ShowCompleted = !st.ShowCompleted })
		}
		return w.fail(ctx, "toggle completed view", err)
	}
	w.update(func(st *State) { st.LastError = nil })
	return nil
}

// MarkComplete completes the visit for uhiNo. The record leaves the waiting
// listing and joins the completed one when that view is showing.
func (w *Workflow) MarkComplete(ctx context.Context, uhiNo string) (*patient.Patient, error) {
	done, err := w.begin("mark complete", ScreenDashboard)
	if err != nil {
		return nil, err
	}
	defer done()

	p, err := w.api.MarkCompleted(ctx, uhiNo)
	if err != nil {
		return nil, w.fail(ctx, "mark complete", err)
	}

	w.update(func(st *State) {
		st.Waiting = remove(st.Waiting, p)
		if st.ShowCompleted {
			st.Completed = upsert(st.Completed, p)
		}
		st.LastError = nil
	})
	w.logger.Info().Str("uhi_no", p.UHINo).Msg("visit completed")
	return p, nil
}

func (w *Workflow) OpenTests(p *patient.Patient) error {
	done, err := w.begin("open tests", ScreenDashboard)
	if err != nil {
		return err
	}
	defer done()
	if p == nil {
		return ErrNoSelection
	}
	w.update(func(st *State) {
		st.Screen = ScreenTestsView
		st.Selected = p
		st.LastError = nil
	})
	return nil
}

// AddParameterReading appends m to the selected patient's parameters and
// stays on the tests screen.
func (w *Workflow) AddParameterReading(ctx context.Context, m patient.Measurement) (*patient.Patient, error) {
	done, err := w.begin("add parameter reading", ScreenTestsView)
	if err != nil {
		return nil, err
	}
	defer done()

	selected := w.State().Selected
	if selected == nil {
		return nil, ErrNoSelection
	}
	p, err := w.api.AppendParameter(ctx, selected.ID, m)
	if err != nil {
		return nil, w.fail(ctx, "add parameter reading", err)
	}

	w.update(func(st *State) {
		st.Selected = p
		st.Waiting = replace(st.Waiting, p)
		st.Completed = replace(st.Completed, p)
		st.LastError = nil
	})
	return p, nil
}

// OpenReports loads the report list for p and shows it. The dashboard stays
// active if the list cannot be loaded.
func (w *Workflow) OpenReports(ctx context.Context, p *patient.Patient) ([]reports.Report, error) {
	done, err := w.begin("open reports", ScreenDashboard)
	if err != nil {
		return nil, err
	}
	defer done()
	if p == nil {
		return nil, ErrNoSelection
	}

	list, err := w.api.ListReports(ctx, p.UHINo)
	if err != nil {
		return nil, w.fail(ctx, "open reports", err)
	}
	list = slices.Clone(list)
	w.update(func(st *State) {
		st.Screen = ScreenReportView
		st.Selected = p
		st.Reports = list
		st.LastError = nil
	})
	return list, nil
}

// Back returns to the dashboard, discarding any open form.
func (w *Workflow) Back() error {
	done, err := w.begin("back", ScreenAddPatient, ScreenVitalInfo, ScreenReportView, ScreenTestsView)
	if err != nil {
		return err
	}
	defer done()
	w.update(func(st *State) {
		st.Screen = ScreenDashboard
		st.AddForm = defaultAddForm()
		st.VitalsForm = VitalsForm{}
		st.Selected = nil
		st.Reports = nil
		st.LastError = nil
	})
	return nil
}
