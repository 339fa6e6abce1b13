package documents

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/blobstore"
	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	g := api.Group("/documents")

	read := g.Group("", auth.RequireRole(auth.RoleRecordsOfficer, auth.RoleDoctor, auth.RoleNurse,
		auth.RoleReceptionist, auth.RoleLabTechnician, auth.RoleRadiologist))
	read.GET("", h.ListDocuments)
	read.GET("/:id", h.GetDocument)
	read.GET("/:id/download", h.DownloadDocument)
	read.GET("/:id/url", h.DocumentURL)

	write := g.Group("", auth.RequireRole(auth.RoleRecordsOfficer, auth.RoleDoctor, auth.RoleNurse,
		auth.RoleLabTechnician, auth.RoleRadiologist))
	write.POST("", h.UploadDocument)
	write.PATCH("/:id", h.UpdateDocument)
	write.POST("/:id/archive", h.ArchiveDocument)
	write.POST("/:id/restore", h.RestoreDocument)

	records := g.Group("", auth.RequireRole(auth.RoleRecordsOfficer))
	records.DELETE("/:id", h.DeleteDocument)
}

func httpError(err error) error {
	switch {
	case db.IsNotFound(err), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrArchived):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// splitTags accepts repeated tags fields as well as a comma separated list.
func splitTags(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

// UploadDocument takes a multipart form with the file under "file".
func (h *Handler) UploadDocument(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer src.Close()

	ctx := c.Request().Context()
	in := Upload{
		Name:        c.FormValue("name"),
		Type:        Type(c.FormValue("type")),
		PatientID:   c.FormValue("patient_id"),
		PatientName: c.FormValue("patient_name"),
		Description: c.FormValue("description"),
		UploadedBy:  c.FormValue("uploaded_by"),
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		Size:        file.Size,
	}
	if form, err := c.MultipartForm(); err == nil {
		in.Tags = splitTags(form.Value["tags"])
	}
	if in.UploadedBy == "" {
		in.UploadedBy = auth.UsernameFromContext(ctx)
	}
	d, err := h.svc.UploadDocument(ctx, in, src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDocument(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	d, rc, err := h.svc.DownloadDocument(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, d.FileName))
	return c.Stream(http.StatusOK, d.FileType, rc)
}

func (h *Handler) DocumentURL(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	url, expires, err := h.svc.DocumentURL(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"url": url, "expires_at": expires})
}

func (h *Handler) ListDocuments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Type:      Type(c.QueryParam("type")),
		PatientID: c.QueryParam("patient_id"),
		Status:    Status(c.QueryParam("status")),
		Tag:       c.QueryParam("tag"),
		Search:    c.QueryParam("search"),
	}
	items, total, err := h.svc.ListDocuments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var upd Update
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDocument(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ArchiveDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.ArchiveDocument(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RestoreDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.RestoreDocument(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDocument(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
