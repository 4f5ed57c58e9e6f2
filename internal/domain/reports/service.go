// Package reports lists and serves the lab and scan documents attached to a
// patient's record.
package reports

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/blobstore"
)

// Report is the listing entry shown on the report view screen.
type Report struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	FileType    string `json:"fileType"`
	Size        int64  `json:"size"`
	Category    string `json:"category,omitempty"`
	ViewURI     string `json:"viewUri"`
	DownloadURI string `json:"downloadUri"`
}

// PatientLookup confirms a patient exists before reports are attached or
// listed.
type PatientLookup interface {
	GetPatient(ctx context.Context, uhiNo string) (*patient.Patient, error)
}

type Upload struct {
	UHINo       string
	Filename    string
	ContentType string
	Category    string
	UploadedBy  string
	Content     io.Reader
}

type Service struct {
	store    blobstore.BlobStore
	patients PatientLookup
	baseURL  string
	logger   zerolog.Logger
}

// NewService builds report URIs under baseURL, e.g. "https://opd.example.org".
// An empty baseURL yields root-relative URIs.
func NewService(store blobstore.BlobStore, patients PatientLookup, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		patients: patients,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

func (s *Service) ListForPatient(ctx context.Context, uhiNo string) ([]Report, error) {
	uhiNo = strings.TrimSpace(uhiNo)
	if _, err := s.patients.GetPatient(ctx, uhiNo); err != nil {
		return nil, err
	}
	metas, err := s.store.ListByPatient(ctx, uhiNo)
	if err != nil {
		return nil, patient.Unknown("list reports failed", err)
	}
	out := make([]Report, 0, len(metas))
	for _, m := range metas {
		out = append(out, s.toReport(m))
	}
	return out, nil
}

func (s *Service) Upload(ctx context.Context, up Upload) (*Report, error) {
	up.UHINo = strings.TrimSpace(up.UHINo)
	if _, err := s.patients.GetPatient(ctx, up.UHINo); err != nil {
		return nil, err
	}
	filename := filepath.Base(strings.TrimSpace(up.Filename))
	if filename == "." || filename == "/" {
		filename = ""
	}
	contentType := normalizeContentType(up.ContentType, filename)

	meta, err := s.store.Upload(ctx, blobstore.BlobMetadata{
		FileName:    filename,
		ContentType: contentType,
		UHINo:       up.UHINo,
		Category:    strings.TrimSpace(up.Category),
		CreatedBy:   up.UploadedBy,
	}, up.Content)
	if err != nil {
		return nil, blobError(err)
	}
	s.logger.Info().
		Str("uhi_no", up.UHINo).
		Str("report_id", meta.ID).
		Int64("size", meta.Size).
		Msg("report uploaded")
	r := s.toReport(meta)
	return &r, nil
}

// Open returns the file content; the caller closes it.
func (s *Service) Open(ctx context.Context, id string) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	rc, meta, err := s.store.Download(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, nil, blobError(err)
	}
	return rc, meta, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return blobError(err)
	}
	s.logger.Info().Str("report_id", id).Msg("report deleted")
	return nil
}

func (s *Service) toReport(m *blobstore.BlobMetadata) Report {
	return Report{
		ID:          m.ID,
		Filename:    m.FileName,
		FileType:    fileType(m.ContentType, m.FileName),
		Size:        m.Size,
		Category:    m.Category,
		ViewURI:     s.baseURL + "/api/v1/reports/" + m.ID + "/view",
		DownloadURI: s.baseURL + "/api/v1/reports/" + m.ID,
	}
}

var fileTypes = map[string]string{
	"application/pdf": "pdf",
	"image/png":       "png",
	"image/jpeg":      "jpeg",
	"text/plain":      "txt",
	"text/csv":        "csv",
}

func fileType(contentType, filename string) string {
	if ft, ok := fileTypes[contentType]; ok {
		return ft
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// normalizeContentType strips parameters and falls back to the file
// extension when the client sent nothing useful.
func normalizeContentType(declared, filename string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	}
	return declared
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return patient.NotFoundf("report not found")
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrMissingFileName),
		errors.Is(err, blobstore.ErrMissingOwner):
		return patient.Validationf("%s", err.Error())
	}
	return patient.Unknown("report storage failed", err)
}
