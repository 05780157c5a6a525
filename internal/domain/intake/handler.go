package intake

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes intake ingestion on the ops server.
type Handler struct {
	svc      *Service
	resolver *Resolver
}

func NewHandler(svc *Service, resolver *Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/intake/submissions", h.CreateSubmission)
	g.POST("/discovery/results", h.UploadDiscoveryResults)
}

type submissionRequest struct {
	PracticeID string     `json:"practice_id"`
	Submission Submission `json:"submission"`
}

// CreateSubmission handles POST /intake/submissions.
func (h *Handler) CreateSubmission(c echo.Context) error {
	var req submissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PracticeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "practice_id is required")
	}
	in, err := h.svc.CreateFromSubmission(c.Request().Context(), req.PracticeID, req.Submission)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, in)
}

// UploadDiscoveryResults handles POST /discovery/results with a multipart
// "file" field holding the tabular results workbook.
func (h *Handler) UploadDiscoveryResults(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	applied, skipped, err := h.resolver.IngestXLSX(c.Request().Context(), src)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{
		"applied": applied,
		"skipped": skipped,
	})
}
