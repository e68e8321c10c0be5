package handlers

import (
	"errors"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/siamese-verify/internal/logging"
	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
	"github.com/Brownie44l1/siamese-verify/internal/verify"
)

// DefaultMaxUploadSize caps a verification request body.
const DefaultMaxUploadSize = 10 << 20

const requestIDKey = "request_id"

// Verifier is the part of verify.Verifier the handlers need.
type Verifier interface {
	State() verify.State
	Check() error
	VerifyImages(input, verification image.Image) (verify.Verdict, error)
	VerifyTensors(input, verification preprocess.Tensor) (verify.Verdict, error)
}

// Handler serves the verification API.
type Handler struct {
	verifier      Verifier
	logger        *zap.Logger
	maxUploadSize int64
	maxPixels     int
}

// Options tunes request limits. Zero values use the defaults.
type Options struct {
	MaxUploadSize int64
	MaxPixels     int
}

func NewHandler(verifier Verifier, logger *zap.Logger, opts Options) *Handler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = preprocess.DefaultMaxPixels
	}
	return &Handler{
		verifier:      verifier,
		logger:        logger.Named("handlers"),
		maxUploadSize: opts.MaxUploadSize,
		maxPixels:     opts.MaxPixels,
	}
}

// RegisterRoutes wires the handlers to the Gin router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID(), cors())

	router.GET("/health", h.Health)
	router.POST("/verify", h.VerifyImages)
	router.POST("/verify/tensor", h.VerifyTensors)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": string(h.verifier.State())})
}

// VerifyImages accepts a multipart form with "input" and "verification" image files.
func (h *Handler) VerifyImages(c *gin.Context) {
	id := c.GetString(requestIDKey)
	if err := h.verifier.Check(); err != nil {
		h.failVerify(c, "handlers.verify_images", err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	if err := c.Request.ParseMultipartForm(h.maxUploadSize); err != nil {
		if isTooLarge(err) {
			h.fail(c, "handlers.verify_images", http.StatusRequestEntityTooLarge, "request too large", err)
			return
		}
		h.fail(c, "handlers.verify_images", http.StatusBadRequest, "failed to parse form", err)
		return
	}

	input, err := h.readImage(c, "input")
	if err != nil {
		h.failVerify(c, "handlers.verify_images", err)
		return
	}
	verification, err := h.readImage(c, "verification")
	if err != nil {
		h.failVerify(c, "handlers.verify_images", err)
		return
	}

	verdict, err := h.verifier.VerifyImages(input, verification)
	if err != nil {
		h.failVerify(c, "handlers.verify_images", err)
		return
	}

	logging.WithOperation(h.logger, "handlers.verify_images", id).Info("verification complete",
		zap.Float32("score", verdict.Score), zap.Bool("verified", verdict.Verified))
	respond(c, id, verdict)
}

var errMissingField = errors.New("missing form file")

func (h *Handler) readImage(c *gin.Context, field string) (image.Image, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, logging.NewSubjectError("handlers.read_image", field, errMissingField)
	}

	data, err := readFormFile(fileHeader)
	if err != nil {
		return nil, logging.NewSubjectError("handlers.read_image", field, err)
	}

	img, format, err := preprocess.Decode(data, h.maxPixels)
	if err != nil {
		return nil, logging.NewSubjectError("handlers.read_image", field, err)
	}

	h.logger.Debug("image decoded",
		zap.String("field", field),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)
	return img, nil
}

func readFormFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

type tensorPairRequest struct {
	Input        preprocess.Envelope `json:"input" cbor:"input"`
	Verification preprocess.Envelope `json:"verification" cbor:"verification"`
}

// VerifyTensors accepts two already preprocessed tensors as JSON or CBOR.
func (h *Handler) VerifyTensors(c *gin.Context) {
	id := c.GetString(requestIDKey)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if isTooLarge(err) {
			h.fail(c, "handlers.verify_tensors", http.StatusRequestEntityTooLarge, "request too large", err)
			return
		}
		h.fail(c, "handlers.verify_tensors", http.StatusBadRequest, "failed to read request body", err)
		return
	}

	req, err := decodeTensorPair(c.ContentType(), body)
	if err != nil {
		h.fail(c, "handlers.verify_tensors", http.StatusBadRequest, "invalid request body", err)
		return
	}

	input, err := req.Input.Tensor()
	if err != nil {
		h.fail(c, "handlers.verify_tensors", http.StatusBadRequest, "invalid input tensor: "+err.Error(), err)
		return
	}
	verification, err := req.Verification.Tensor()
	if err != nil {
		h.fail(c, "handlers.verify_tensors", http.StatusBadRequest, "invalid verification tensor: "+err.Error(), err)
		return
	}

	verdict, err := h.verifier.VerifyTensors(input, verification)
	if err != nil {
		h.failVerify(c, "handlers.verify_tensors", err)
		return
	}

	respond(c, id, verdict)
}

func respond(c *gin.Context, id string, verdict verify.Verdict) {
	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"verified":   verdict.Verified,
		"score":      verdict.Score,
	})
}

// failVerify maps the verification error taxonomy onto HTTP statuses.
func (h *Handler) failVerify(c *gin.Context, operation string, err error) {
	field := logging.SubjectOf(err)
	switch {
	case errors.Is(err, errMissingField):
		h.fail(c, operation, http.StatusBadRequest, "no image file provided in field '"+field+"'", err)
	case errors.Is(err, preprocess.ErrImageDecode):
		msg := "could not decode image, please retake the photo"
		if field != "" {
			msg = "could not decode " + field + " image, please retake the photo"
		}
		h.fail(c, operation, http.StatusUnprocessableEntity, msg, err)
	case errors.Is(err, verify.ErrInvalidTensor):
		h.fail(c, operation, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, model.ErrModelLoad):
		h.fail(c, operation, http.StatusServiceUnavailable, "cannot verify right now", err)
	case errors.Is(err, verify.ErrEngineNotLoaded):
		h.fail(c, operation, http.StatusServiceUnavailable, "model is still loading, try again shortly", err)
	case errors.Is(err, verify.ErrInferenceFailure):
		h.fail(c, operation, http.StatusInternalServerError, "verification failed", err)
	case isTooLarge(err):
		h.fail(c, operation, http.StatusRequestEntityTooLarge, "request too large", err)
	default:
		h.fail(c, operation, http.StatusInternalServerError, "verification failed", err)
	}
}

func (h *Handler) fail(c *gin.Context, operation string, status int, message string, err error) {
	id := c.GetString(requestIDKey)
	wrapped := logging.NewOperationError(operation, id, err)
	opLogger := logging.WithOperation(h.logger, operation, id)
	if status >= http.StatusInternalServerError {
		opLogger.Error("request failed", zap.Int("status", status), logging.ErrorField(wrapped))
	} else {
		opLogger.Warn("request rejected", zap.Int("status", status), logging.ErrorField(wrapped))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "request_id": id})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
