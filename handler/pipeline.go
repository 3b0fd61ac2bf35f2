package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/service"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PipelineHandler struct {
	cfg      *config.Config
	pipeline *service.Pipeline
	store    service.ResultStore
}

func NewPipelineHandler(cfg *config.Config, pipeline *service.Pipeline, store service.ResultStore) *PipelineHandler {
	return &PipelineHandler{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
	}
}

// StatusForError maps a pipeline failure to an HTTP status.
func StatusForError(err error) int {
	if errors.Is(err, service.ErrQueueFull) {
		return http.StatusServiceUnavailable
	}

	code, ok := model.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case model.ErrorInvalidPrompt:
		return http.StatusBadRequest
	case model.ErrorEmptyCandidateSet, model.ErrorEmptyMask, model.ErrorNoContourFound, model.ErrorDegenerateProfile:
		return http.StatusUnprocessableEntity
	case model.ErrorProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	status := StatusForError(err)
	code, _ := model.CodeOf(err)

	if status >= http.StatusInternalServerError {
		utils.Logger.Error(message, zap.Int("status", status), zap.Error(err))
	} else {
		utils.Logger.Warn(message, zap.Int("status", status), zap.Error(err))
	}

	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Code:    code,
		Error:   err.Error(),
	})
}

// Segment handles POST /segment. It segments the uploaded image around its
// center and returns the best mask as a PNG.
func (h *PipelineHandler) Segment(c *gin.Context) {
	img, _, ok := h.readImage(c)
	if !ok {
		return
	}

	ctx, ok := h.requestContext(c)
	if !ok {
		return
	}

	png, err := h.pipeline.SegmentMask(ctx, img)
	if err != nil {
		respondError(c, "segmentation failed", err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// Run handles POST /api/v1/pipeline.
func (h *PipelineHandler) Run(c *gin.Context) {
	img, data, ok := h.readImage(c)
	if !ok {
		return
	}

	bounds := img.Bounds()
	prompt, err := parsePrompt(c, bounds.Dx(), bounds.Dy())
	if err != nil {
		respondError(c, "invalid prompt", err)
		return
	}

	segments := 0
	if raw := c.PostForm("segments"); raw != "" {
		segments, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "segments must be an integer",
				Error:   err.Error(),
			})
			return
		}
	}

	ctx, ok := h.requestContext(c)
	if !ok {
		return
	}

	result, err := h.pipeline.Run(ctx, img, prompt, segments)
	if err != nil {
		respondError(c, "pipeline failed", err)
		return
	}
	result.MD5 = utils.BytesMD5(data)

	if h.store != nil {
		if err := h.store.SetPipelineResult(c.Request.Context(), result); err != nil {
			utils.Logger.Warn("failed to store pipeline result",
				zap.String("id", result.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.PipelineResponse{
		Success: true,
		Message: "pipeline finished",
		Data:    result,
	})
}

// Get handles GET /api/v1/pipeline/:id.
func (h *PipelineHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !utils.IsJobID(id) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "invalid job id",
		})
		return
	}
	if h.store == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "result store is disabled",
		})
		return
	}

	result, err := h.store.GetPipelineResult(c.Request.Context(), id)
	if err != nil {
		respondError(c, "failed to load pipeline result", err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "no result for job " + id,
		})
		return
	}

	c.JSON(http.StatusOK, model.PipelineResponse{
		Success: true,
		Message: "ok",
		Data:    result,
	})
}

// requestContext carries the optional "image_url" form field, a public copy
// of the upload that the hosted provider can fetch directly.
func (h *PipelineHandler) requestContext(c *gin.Context) (context.Context, bool) {
	raw := c.PostForm("image_url")
	if raw == "" {
		return c.Request.Context(), true
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "image_url must be an absolute http(s) URL",
		})
		return nil, false
	}
	return service.WithImageURL(c.Request.Context(), raw), true
}

// readImage validates and decodes the multipart "image" field. On failure it
// writes the response and returns ok=false.
func (h *PipelineHandler) readImage(c *gin.Context) (image.Image, []byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "image file is required",
			Error:   err.Error(),
		})
		return nil, nil, false
	}

	if h.cfg.Upload.MaxSize > 0 && file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, nil, false
	}

	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unsupported file type " + contentType,
		})
		return nil, nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return nil, nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return nil, nil, false
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "failed to decode image",
			Error:   err.Error(),
		})
		return nil, nil, false
	}

	utils.Logger.Info("image uploaded",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	return img, data, true
}

// isAllowedType accepts any type when none is configured and tolerates a
// missing Content-Type header.
func (h *PipelineHandler) isAllowedType(contentType string) bool {
	if len(h.cfg.Upload.AllowedTypes) == 0 || contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// parsePrompt reads an optional point (x, y, label) or box (box_x1..box_y2)
// from the form. It returns nil when neither is given.
func parsePrompt(c *gin.Context, width, height int) (*model.Prompt, error) {
	var prompt model.Prompt

	if c.PostForm("x") != "" || c.PostForm("y") != "" {
		x, errX := strconv.ParseFloat(c.PostForm("x"), 64)
		y, errY := strconv.ParseFloat(c.PostForm("y"), 64)
		if errX != nil || errY != nil {
			return nil, model.NewInvalidPromptError("x and y must both be numbers")
		}
		label := model.LabelForeground
		if raw := c.PostForm("label"); raw != "" {
			l, err := strconv.Atoi(raw)
			if err != nil || (l != int(model.LabelBackground) && l != int(model.LabelForeground)) {
				return nil, model.NewInvalidPromptError("label must be 0 or 1")
			}
			label = model.PointLabel(l)
		}
		prompt.Point = &model.PromptPoint{X: x, Y: y, Label: label}
	}

	boxFields := []string{"box_x1", "box_y1", "box_x2", "box_y2"}
	var coords [4]float64
	present := 0
	for i, name := range boxFields {
		raw := c.PostForm(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, model.NewInvalidPromptError(name + " must be a number")
		}
		coords[i] = v
		present++
	}
	switch present {
	case 0:
	case len(boxFields):
		prompt.Box = &model.Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	default:
		return nil, model.NewInvalidPromptError("box needs box_x1, box_y1, box_x2 and box_y2")
	}

	if prompt.Point == nil && prompt.Box == nil {
		return nil, nil
	}
	if err := prompt.Validate(width, height); err != nil {
		return nil, err
	}
	return &prompt, nil
}
