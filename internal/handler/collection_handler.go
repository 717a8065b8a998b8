package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/middleware"
	"github.com/noah-isme/prepmint-api/internal/models"
	"github.com/noah-isme/prepmint-api/internal/service"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// StreamKeepAlive is how often an idle change stream sends a comment line.
const StreamKeepAlive = 25 * time.Second

// CollectionHandler serves the generic collection API.
type CollectionHandler struct {
	service   *service.CollectionService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCollectionHandler creates a collection handler.
func NewCollectionHandler(svc *service.CollectionService, validate *validator.Validate, logger *zap.Logger) *CollectionHandler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionHandler{service: svc, validator: validate, logger: logger}
}

// List godoc
// @Summary List records
// @Description Cursor-paginated listing with filters, ordering and search
// @Tags Collections
// @Produce json
// @Param source path string true "Source name"
// @Param page_size query int false "Page size"
// @Param order_by query string false "Order field"
// @Param order query string false "asc or desc"
// @Param filter query []string false "field:op:value, in values separated by |" collectionFormat(multi)
// @Param search query string false "Search term"
// @Param search_fields query string false "Comma separated fields searched"
// @Param cursor query string false "Cursor from the previous page"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /collections/{source} [get]
func (h *CollectionHandler) List(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	caps := h.service.Capabilities()
	middleware.SetMeta(c, "search_mode", caps.Search.String())
	response.JSON(c, http.StatusOK, dto.CollectionListResponse{Items: page.Items, Search: q.SearchTerm}, &models.Pagination{
		PageSize:   h.service.PageSize(q.PageSize),
		HasMore:    page.HasMore,
		NextCursor: string(page.NextCursor),
		ExactCount: caps.ExactCount,
	}, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get record
// @Tags Collections
// @Produce json
// @Param source path string true "Source name"
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /collections/{source}/{id} [get]
func (h *CollectionHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("source"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Create godoc
// @Summary Create record
// @Tags Collections
// @Accept json
// @Produce json
// @Param source path string true "Source name"
// @Param payload body map[string]interface{} true "Record fields"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /collections/{source} [post]
func (h *CollectionHandler) Create(c *gin.Context) {
	fields, err := bindFields(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rec, err := h.service.Create(c.Request.Context(), c.Param("source"), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// Update godoc
// @Summary Update record
// @Description Merges the given fields into the record
// @Tags Collections
// @Accept json
// @Produce json
// @Param source path string true "Source name"
// @Param id path string true "Record ID"
// @Param payload body map[string]interface{} true "Fields to merge"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /collections/{source}/{id} [patch]
func (h *CollectionHandler) Update(c *gin.Context) {
	fields, err := bindFields(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rec, err := h.service.Update(c.Request.Context(), c.Param("source"), c.Param("id"), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Delete godoc
// @Summary Delete record
// @Tags Collections
// @Param source path string true "Source name"
// @Param id path string true "Record ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /collections/{source}/{id} [delete]
func (h *CollectionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("source"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkDelete godoc
// @Summary Delete many records
// @Description Deletes ids one by one; partial failures are reported per id
// @Tags Collections
// @Accept json
// @Produce json
// @Param source path string true "Source name"
// @Param payload body dto.BulkDeleteRequest true "Ids to delete"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /collections/{source}/bulk-delete [post]
func (h *CollectionHandler) BulkDelete(c *gin.Context) {
	var req dto.BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.service.BulkDelete(c.Request.Context(), c.Param("source"), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := dto.BulkDeleteResponse{Outcomes: make([]dto.BulkDeleteOutcome, 0, len(result.Outcomes))}
	for _, outcome := range result.Outcomes {
		item := dto.BulkDeleteOutcome{ID: outcome.ID, OK: outcome.OK()}
		if outcome.Err != nil {
			appErr := appErrors.FromError(outcome.Err)
			item.Code = appErr.Code
			item.Error = appErr.Message
			out.Failed++
		} else {
			out.Succeeded++
		}
		out.Outcomes = append(out.Outcomes, item)
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// Stream godoc
// @Summary Stream changes
// @Description Server-sent events with one insert, update or delete per event
// @Tags Collections
// @Produce text/event-stream
// @Param source path string true "Source name"
// @Success 200
// @Failure 400 {object} response.Envelope
// @Router /collections/{source}/stream [get]
func (h *CollectionHandler) Stream(c *gin.Context) {
	source := c.Param("source")
	sub, err := h.service.Subscribe(c.Request.Context(), source)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer sub.Close() //nolint:errcheck

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(StreamKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.Render(-1, sseEvent(ev))
			return true
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
	h.logger.Debug("collection stream closed", zap.String("source", source))
}

func sseEvent(ev collection.ChangeEvent) sse.Event {
	return sse.Event{
		Event: string(ev.Op),
		Id:    ev.ID,
		Data:  dto.CollectionChange{Op: ev.Op, ID: ev.ID, Record: ev.Record},
	}
}

func bindFields(c *gin.Context) (map[string]any, error) {
	var fields map[string]any
	decoder := json.NewDecoder(c.Request.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
	}
	return normalizeNumbers(fields).(map[string]any), nil
}

// normalizeNumbers turns json.Number into int64 when integral, else float64.
func normalizeNumbers(v any) any {
	switch typed := v.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		f, _ := typed.Float64()
		return f
	case map[string]any:
		for k, inner := range typed {
			typed[k] = normalizeNumbers(inner)
		}
		return typed
	case []any:
		for i, inner := range typed {
			typed[i] = normalizeNumbers(inner)
		}
		return typed
	}
	return v
}

func parseListQuery(c *gin.Context) (collection.Query, error) {
	q := collection.Query{
		Source:     c.Param("source"),
		OrderBy:    c.Query("order_by"),
		Direction:  collection.Direction(c.Query("order")),
		SearchTerm: c.Query("search"),
		Cursor:     collection.Cursor(c.Query("cursor")),
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return q, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("invalid page_size %q", raw))
		}
		q.PageSize = size
	}
	if raw := c.Query("search_fields"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				q.SearchFields = append(q.SearchFields, field)
			}
		}
	}
	for _, raw := range c.QueryArray("filter") {
		f, err := parseFilter(raw)
		if err != nil {
			return q, err
		}
		q.Filters = append(q.Filters, f)
	}
	return q, nil
}

// parseFilter reads field:op:value. The value may itself contain colons.
func parseFilter(raw string) (collection.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return collection.Filter{}, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("filter %q must look like field:op:value", raw))
	}
	op, err := collection.ParseOperator(parts[1])
	if err != nil {
		return collection.Filter{}, err
	}
	f := collection.Filter{Field: strings.TrimSpace(parts[0]), Operator: op}
	if op == collection.OpIn {
		values := make([]any, 0)
		for _, item := range strings.Split(parts[2], "|") {
			if item == "" {
				continue
			}
			values = append(values, parseFilterValue(item))
		}
		f.Value = values
		return f, nil
	}
	f.Value = parseFilterValue(parts[2])
	return f, nil
}

// parseFilterValue reads JSON literals (numbers, true, false, null and
// quoted strings); anything else is taken as a plain string.
func parseFilterValue(raw string) any {
	var v any
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&v); err != nil || decoder.More() {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any:
		return raw
	}
	return normalizeNumbers(v)
}
