package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"go-posts/internal/metrics"
	"go-posts/internal/model"
	"go-posts/internal/query"
	"go-posts/internal/service"
	"go-posts/internal/store"
)

type Handler struct {
	posts     *service.PostService
	ingest    *service.IngestService
	status    *service.StatusService
	metrics   *metrics.Metrics
	apiToken  string
	scheduler interface {
		GetNextIngestTime() time.Time
	}
}

func NewHandler(posts *service.PostService, ingest *service.IngestService, status *service.StatusService, m *metrics.Metrics, apiToken string) *Handler {
	return &Handler{
		posts:    posts,
		ingest:   ingest,
		status:   status,
		metrics:  m,
		apiToken: apiToken,
	}
}

// SetScheduler lets /status report the next scheduled ingestion.
func (h *Handler) SetScheduler(scheduler interface {
	GetNextIngestTime() time.Time
}) {
	h.scheduler = scheduler
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/status", h.GetStatus)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	auth := requireToken(h.apiToken)

	posts := r.Group("/posts", auth)
	{
		posts.GET("", h.ListPosts)
		posts.POST("", h.CreatePost)
		posts.GET("/:id", h.GetPost)
		posts.PATCH("/:id", h.UpdatePost)
		posts.DELETE("/:id", h.DeletePost)
	}

	r.POST("/ingest", auth, h.TriggerIngest)
}

// ===== Posts =====

type createPostRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	Link        string `json:"link" binding:"required"`
	PubDate     string `json:"pubDate" binding:"required"`
}

func (h *Handler) ListPosts(c *gin.Context) {
	filter, err := filterQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.posts.List(c.Request.Context(), query.Params{
		Search: c.Query("search"),
		Page:   intQuery(c, "page"),
		Limit:  intQuery(c, "limit"),
		Sort:   c.Query("sort"),
		Filter: filter,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetPost(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	post, err := h.posts.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Create(c.Request.Context(), model.RawFeedItem(req))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, post)
}

func (h *Handler) UpdatePost(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req model.RawPostPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (h *Handler) DeletePost(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	post, err := h.posts.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

// ===== Ingestion =====

// TriggerIngest runs one cycle synchronously and returns its report.
func (h *Handler) TriggerIngest(c *gin.Context) {
	report, err := h.ingest.RunCycle(c.Request.Context())
	if err != nil {
		var (
			fetchErr *service.FetchError
			parseErr *service.ParseError
			verr     *service.ValidationError
		)
		switch {
		case errors.Is(err, service.ErrCycleInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &fetchErr), errors.As(err, &parseErr), errors.As(err, &verr):
			// upstream feed problem, not a client error
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
		default:
			log.WithError(err).Error("Manual ingestion failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "report": report})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// ===== Status =====

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.status.GetSystemStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	if h.scheduler != nil {
		status.NextIngestTime = h.scheduler.GetNextIngestTime()
	}

	c.JSON(http.StatusOK, status)
}

// writeError maps service and store errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		verr     *service.ValidationError
		fieldErr *query.FieldError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verr.Violations})
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": fieldErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found."})
	case errors.Is(err, store.ErrDuplicateLink):
		c.JSON(http.StatusConflict, gin.H{"error": "Post with this link already exists."})
	default:
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return uint(id), true
}

// intQuery returns 0 for a missing or non-numeric value so the query builder
// applies its defaults.
func intQuery(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// filterQuery accepts both filter[field]=value and filter={"field":"value"}.
func filterQuery(c *gin.Context) (map[string]string, error) {
	if raw := c.Query("filter"); raw != "" {
		var filter map[string]string
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return nil, fmt.Errorf("filter must be a JSON object of strings: %w", err)
		}
		return filter, nil
	}
	return c.QueryMap("filter"), nil
}
