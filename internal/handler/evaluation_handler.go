package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/internal/middleware"
	"github.com/noah-isme/prepmint-api/internal/service"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// multipartOverhead is the slack allowed on top of the file size for form
// fields and part headers.
const multipartOverhead = 64 << 10

// EvaluationHandler serves answer-sheet intake and job status.
type EvaluationHandler struct {
	service *service.EvaluationService
}

// NewEvaluationHandler creates an evaluation handler.
func NewEvaluationHandler(svc *service.EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{service: svc}
}

// Submit godoc
// @Summary Submit answer sheet
// @Description Uploads a file for grading and returns the queued job id
// @Tags Evaluations
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Answer sheet (PDF, JPEG or PNG)"
// @Param userId formData string false "Owner of the evaluation"
// @Param testId formData string false "Test being answered"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /evaluations [post]
func (h *EvaluationHandler) Submit(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	maxSize := h.service.Rules().MaxSize
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, h.service.Rules().Check(evaluation.FileInfo{Name: "upload", Size: maxSize + 1}))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	content, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read uploaded file"))
		return
	}
	defer content.Close() //nolint:errcheck

	job, err := h.service.Submit(c.Request.Context(), user, service.Upload{
		UserID:   c.PostForm("userId"),
		TestID:   c.PostForm("testId"),
		FileName: header.Filename,
		Size:     header.Size,
		MimeType: header.Header.Get("Content-Type"),
		Content:  content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.SubmitEvaluationResponse{JobID: job.ID})
}

// Status godoc
// @Summary Get job status
// @Tags Evaluations
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /evaluations/jobs/{id} [get]
func (h *EvaluationHandler) Status(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job.StatusView(), nil)
}

// Report godoc
// @Summary Report job status
// @Description Status update from the grader; finished jobs cannot change
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param payload body dto.EvaluationReportRequest true "Status report"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /evaluations/jobs/{id} [patch]
func (h *EvaluationHandler) Report(c *gin.Context) {
	var req dto.EvaluationReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.service.Report(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job.StatusView(), nil)
}

// File godoc
// @Summary Download uploaded file
// @Description Signed, expiring download link handed to the grader
// @Tags Evaluations
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Router /evaluations/files/{token} [get]
func (h *EvaluationHandler) File(c *gin.Context) {
	file, job, err := h.service.OpenFile(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.DataFromReader(http.StatusOK, job.SizeBytes, job.MimeType, file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", job.FileName),
		"Cache-Control":       "no-store",
	})
}
