package httpapi

import (
	"net/http"

	"promptmarket-rewards/pkg/errutil"
	"promptmarket-rewards/pkg/middleware"
	"promptmarket-rewards/services/abuse"
	"promptmarket-rewards/services/reward"
	"promptmarket-rewards/services/stats"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Handler owns the HTTP surface: the internal vote-reward hook, the admin
// moderation endpoints and the operational probes.
type Handler struct {
	db        *gorm.DB
	processor *reward.Processor
	abuse     *abuse.Service
	stats     *stats.Service
}

type HandlerParams struct {
	fx.In
	DB        *gorm.DB
	Processor *reward.Processor
	Abuse     *abuse.Service
	Stats     *stats.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		db:        p.DB,
		processor: p.Processor,
		abuse:     p.Abuse,
		stats:     p.Stats,
	}
}

// ProvideRouter builds the gin engine and mounts every route.
func ProvideRouter(h *Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := r.Group("/internal/v1")
	internal.POST("/vote-rewards", h.ProcessVoteReward)

	admin := r.Group("/admin/v1")
	admin.POST("/abuse-cases/:id/investigate", h.InvestigateAbuseCase)
	admin.GET("/users/:id/voting-stats", h.UserVotingStats)

	return r
}

func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ProcessVoteReward(c *gin.Context) {
	var ev reward.VoteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.Error(errutil.BadRequest("invalid vote event", err))
		return
	}

	result := h.processor.ProcessVoteReward(c.Request.Context(), ev)
	c.JSON(http.StatusOK, result)
}

type investigateRequest struct {
	InvestigatorID string `json:"investigator_id" binding:"required"`
	Resolution     string `json:"resolution" binding:"required"`
	Status         string `json:"status" binding:"required"`
}

func (h *Handler) InvestigateAbuseCase(c *gin.Context) {
	var req investigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid investigation request", err))
		return
	}

	status := abuse.CaseStatus(req.Status)
	if !abuse.ValidStatus(status) {
		c.Error(errutil.BadRequest("invalid case status", nil))
		return
	}

	if ok := h.abuse.Investigate(c.Request.Context(), c.Param("id"), req.InvestigatorID, req.Resolution, status); !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) UserVotingStats(c *gin.Context) {
	result, err := h.stats.GetUserVotingStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(errutil.Internal("failed to load voting stats", err))
		return
	}

	c.JSON(http.StatusOK, result)
}

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, ProvideRouter),
)
