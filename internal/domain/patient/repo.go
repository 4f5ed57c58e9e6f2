package patient

import (
	"context"
)

// Repository persists patient records. Implementations report missing
// records as ErrNotFound and unique-key collisions on uhiNo as
// ErrDuplicateKey. Every mutating call is a single-document write and returns
// the record as stored afterwards.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Count(ctx context.Context) (int, error)
	ExistsByUHINo(ctx context.Context, uhiNo string) (bool, error)
	GetByUHINo(ctx context.Context, uhiNo string) (*Patient, error)
	GetByID(ctx context.Context, id string) (*Patient, error)
	ListByStatus(ctx context.Context, status Status) ([]*Patient, error)

	SetStatus(ctx context.Context, uhiNo string, status Status) (*Patient, error)
	SetVitals(ctx context.Context, id string, v Vitals) (*Patient, error)
	AppendReading(ctx context.Context, id, paramType string, r Reading) (*Patient, error)
	AppendNote(ctx context.Context, id string, n Note) (*Patient, error)
	SetIntake(ctx context.Context, uhiNo string, in Intake) (*Patient, error)
	SetSummary(ctx context.Context, id, summary string) (*Patient, error)

	Ping(ctx context.Context) error
}

// ListCache holds status listings between mutations. Any mutation must call
// Invalidate before returning so the next read goes to the store.
//
// GetList reports the cache generation it looked at. A reader that misses
// passes that generation back to SetList; once Invalidate has advanced the
// generation, the snapshot is never served. A negative generation means the
// listing must not be cached.
type ListCache interface {
	GetList(ctx context.Context, status Status) (patients []*Patient, gen int64, ok bool)
	SetList(ctx context.Context, status Status, gen int64, patients []*Patient)
	Invalidate(ctx context.Context)
}

// Recorder receives domain counters.
type Recorder interface {
	PatientCreated(redirection Redirection)
	StatusCompleted()
	VitalsSaved()
	ReadingAppended(paramType string)
	NoteAppended()
	BulkImported(inserted, failed int)
}

type noopCache struct{}

func (noopCache) GetList(context.Context, Status) ([]*Patient, int64, bool) { return nil, -1, false }
func (noopCache) SetList(context.Context, Status, int64, []*Patient)       {}
func (noopCache) Invalidate(context.Context)                               {}

type noopRecorder struct{}

func (noopRecorder) PatientCreated(Redirection) {}
func (noopRecorder) StatusCompleted()           {}
func (noopRecorder) VitalsSaved()               {}
func (noopRecorder) ReadingAppended(string)     {}
func (noopRecorder) NoteAppended()              {}
func (noopRecorder) BulkImported(int, int)      {}
