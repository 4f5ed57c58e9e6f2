package reports

import (
	"errors"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleFrontDesk))
	readGroup.GET("/patients/:uhiNo/reports", h.ListReports)
	readGroup.GET("/reports/:id", h.DownloadReport)
	readGroup.GET("/reports/:id/view", h.ViewReport)
	readGroup.POST("/patients/:uhiNo/reports", h.UploadReport)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.DELETE("/reports/:id", h.DeleteReport)
}

func (h *Handler) ListReports(c echo.Context) error {
	list, err := h.svc.ListForPatient(c.Request().Context(), c.Param("uhiNo"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// UploadReport accepts a multipart upload in the "file" field with an
// optional "category" form value.
func (h *Handler) UploadReport(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer f.Close()

	r, err := h.svc.Upload(c.Request().Context(), Upload{
		UHINo:       c.Param("uhiNo"),
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Category:    c.FormValue("category"),
		UploadedBy:  auth.UserIDFromContext(c.Request().Context()),
		Content:     f,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	return h.serve(c, "attachment")
}

func (h *Handler) ViewReport(c echo.Context) error {
	return h.serve(c, "inline")
}

func (h *Handler) serve(c echo.Context, disposition string) error {
	rc, meta, err := h.svc.Open(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType(disposition, map[string]string{"filename": meta.FileName}))
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) DeleteReport(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	var e *patient.Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	he := echo.NewHTTPError(patient.StatusFor(e.Kind), e.Message)
	if e.Err != nil {
		he = he.SetInternal(e.Err)
	}
	return he
}
