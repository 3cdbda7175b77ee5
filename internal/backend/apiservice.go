package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/snaplate/snaplate/internal/core"
	"github.com/snaplate/snaplate/internal/history"
	"github.com/snaplate/snaplate/internal/imaging"

	"github.com/labstack/echo/v4"
)

const mimePNG = "image/png"

// APIService exposes the capture and history operations over HTTP. It owns no
// state beyond the core service it delegates to.
type APIService struct {
	coreService *core.CoreService
}

type ocrRequest struct {
	Image      string `json:"image" validate:"required"`
	TargetLang string `json:"target_lang"`
}

func NewAPIService(coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Probe route; the request logger skips it
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})

	e.GET("/api/health", s.healthHandler)
	e.POST("/api/ocr", s.ocrHandler)

	e.POST("/api/history", s.saveHistoryHandler)
	e.GET("/api/history", s.listHistoryHandler)
	e.GET("/api/history/count", s.countHistoryHandler)
	e.GET("/api/history/export", s.exportHistoryHandler)
	e.GET("/api/history/:id", s.getHistoryHandler)
	e.GET("/api/history/:id/image", s.historyImageHandler)
	e.DELETE("/api/history/:id", s.deleteHistoryHandler)
	e.DELETE("/api/history", s.clearHistoryHandler)
}

// healthHandler reports the service itself plus the reachability of the
// recognition backend; clients poll it to show an offline state. A degraded
// recognizer does not fail the endpoint.
func (s *APIService) healthHandler(ctx echo.Context) error {
	reply := map[string]string{"status": "ok", "recognizer": "ok"}
	if err := s.coreService.RecognizerHealth(ctx.Request().Context()); err != nil {
		slog.Warn("healthHandler: recognizer unreachable", "error", err)
		reply["recognizer"] = "unreachable"
	}
	return ctx.JSON(http.StatusOK, reply)
}

func (s *APIService) ocrHandler(ctx echo.Context) error {
	var req ocrRequest
	if err := ctx.Bind(&req); err != nil {
		slog.Warn("ocrHandler: failed to bind request",
			"status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	image, err := imaging.DecodePayload(req.Image)
	if err != nil {
		slog.Warn("ocrHandler: failed to decode image payload",
			"status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "image payload is not valid base64"})
	}

	record, err := s.coreService.Recognize(ctx.Request().Context(), image, req.TargetLang)
	if err != nil {
		slog.Error("ocrHandler: recognition failed",
			"status", http.StatusBadGateway, "error", err)
		return ctx.JSON(http.StatusBadGateway, map[string]string{"error": "recognition failed"})
	}

	return ctx.JSON(http.StatusOK, record)
}

func (s *APIService) saveHistoryHandler(ctx echo.Context) error {
	var record history.Record
	if err := ctx.Bind(&record); err != nil {
		slog.Warn("saveHistoryHandler: failed to bind record",
			"status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid record body"})
	}

	saved, err := s.coreService.SaveResult(ctx.Request().Context(), &record)
	if err != nil {
		slog.Error("saveHistoryHandler: failed to save record",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save record"})
	}

	return ctx.JSON(http.StatusCreated, saved)
}

func (s *APIService) listHistoryHandler(ctx echo.Context) error {
	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			slog.Warn("listHistoryHandler: invalid limit",
				"status", http.StatusBadRequest, "limit", raw)
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		}
		limit = parsed
	}

	var records []*history.Record
	var err error
	if query := ctx.QueryParam("q"); query != "" {
		records, err = s.coreService.SearchHistory(ctx.Request().Context(), query)
		if err == nil && limit > 0 && len(records) > limit {
			records = records[:limit]
		}
	} else {
		records, err = s.coreService.History(ctx.Request().Context(), limit)
	}
	if err != nil {
		slog.Error("listHistoryHandler: failed to list history",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list history"})
	}

	if records == nil {
		records = []*history.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (s *APIService) countHistoryHandler(ctx echo.Context) error {
	count, err := s.coreService.CountResults(ctx.Request().Context())
	if err != nil {
		slog.Error("countHistoryHandler: failed to count history",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to count history"})
	}
	return ctx.JSON(http.StatusOK, map[string]int{"count": count})
}

func (s *APIService) exportHistoryHandler(ctx echo.Context) error {
	records, err := s.coreService.History(ctx.Request().Context(), 0)
	if err != nil {
		slog.Error("exportHistoryHandler: failed to load history",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to export history"})
	}
	if records == nil {
		records = []*history.Record{}
	}

	filename := fmt.Sprintf("history-%s.json", time.Now().UTC().Format("2006-01-02"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, filename))
	return ctx.JSON(http.StatusOK, records)
}

func (s *APIService) getHistoryHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	record, err := s.coreService.Result(ctx.Request().Context(), id)
	if err != nil {
		if history.IsNotFound(err) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "record not found"})
		}
		slog.Error("getHistoryHandler: failed to read record",
			"status", http.StatusInternalServerError, "record_id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read record"})
	}
	return ctx.JSON(http.StatusOK, record)
}

func (s *APIService) historyImageHandler(ctx echo.Context) error {
	id := ctx.Param("id")

	width := 0
	if raw := ctx.QueryParam("w"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			slog.Warn("historyImageHandler: invalid width",
				"status", http.StatusBadRequest, "width", raw)
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "w must be a positive integer"})
		}
		width = parsed
	}

	thumbnail, err := s.coreService.Thumbnail(ctx.Request().Context(), id, width)
	if err != nil {
		if history.IsNotFound(err) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "record not found"})
		}
		slog.Error("historyImageHandler: failed to build thumbnail",
			"status", http.StatusInternalServerError, "record_id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to build thumbnail"})
	}
	if thumbnail == nil {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "record has no annotated image"})
	}
	return ctx.Blob(http.StatusOK, mimePNG, thumbnail)
}

func (s *APIService) deleteHistoryHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := s.coreService.DeleteResult(ctx.Request().Context(), id); err != nil {
		slog.Error("deleteHistoryHandler: failed to delete record",
			"status", http.StatusInternalServerError, "record_id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete record"})
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) clearHistoryHandler(ctx echo.Context) error {
	if err := s.coreService.ClearHistory(ctx.Request().Context()); err != nil {
		slog.Error("clearHistoryHandler: failed to clear history",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to clear history"})
	}
	return ctx.NoContent(http.StatusNoContent)
}
