package events

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes endpoint management on the ops server.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.RegisterEndpoint)
	g.GET("", h.ListEndpoints)
	g.GET("/:id", h.GetEndpoint)
	g.PUT("/:id", h.UpdateEndpoint)
	g.DELETE("/:id", h.DeleteEndpoint)
	g.POST("/:id/test", h.TestEndpoint)
	g.GET("/:id/deliveries", h.DeliveryLogs)
	g.POST("/:id/pause", h.PauseEndpoint)
	g.POST("/:id/resume", h.ResumeEndpoint)
	g.POST("/deliveries/:id/retry", h.RetryDelivery)
}

type registerRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	PracticeID string   `json:"practice_id"`
	Events     []string `json:"events"`
}

func (h *Handler) RegisterEndpoint(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.manager.RegisterEndpoint(c.Request().Context(), req.URL, req.Secret, req.PracticeID, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) ListEndpoints(c echo.Context) error {
	practiceID := c.QueryParam("practice_id")
	limit, offset := pagination(c)
	eps, total, err := h.manager.store.ListEndpoints(c.Request().Context(), practiceID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(eps, total, limit, offset))
}

func (h *Handler) GetEndpoint(c echo.Context) error {
	ep, err := h.manager.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, ep)
}

type updateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Status string   `json:"status"`
}

func (h *Handler) UpdateEndpoint(c echo.Context) error {
	ep, err := h.manager.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		if err := validateEndpointURL(req.URL); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ep.URL = req.URL
	}
	if len(req.Events) > 0 {
		ep.Events = req.Events
	}
	if req.Status != "" {
		ep.Status = req.Status
	}
	if err := h.manager.store.UpdateEndpoint(c.Request().Context(), ep); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) DeleteEndpoint(c echo.Context) error {
	if err := h.manager.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) TestEndpoint(c echo.Context) error {
	attempt, err := h.manager.TestEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) DeliveryLogs(c echo.Context) error {
	limit, offset := pagination(c)
	logs, total, err := h.manager.DeliveryLogs(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(logs, total, limit, offset))
}

func (h *Handler) RetryDelivery(c echo.Context) error {
	attempt, err := h.manager.RetryDelivery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) PauseEndpoint(c echo.Context) error {
	if err := h.manager.PauseEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": EndpointPaused})
}

func (h *Handler) ResumeEndpoint(c echo.Context) error {
	if err := h.manager.ResumeEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": EndpointActive})
}

func pagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func listResponse[T any](data []T, total, limit, offset int) map[string]interface{} {
	return map[string]interface{}{
		"data":     data,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	}
}
