package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kanban/internal/config"
	"kanban/internal/lifecycle"
	"kanban/internal/middleware"
	"kanban/internal/model"
	"kanban/internal/queuerisk"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxReplayItems       = 500
)

// CardQueries are the read and settings operations behind the card routes.
type CardQueries interface {
	GetCard(ctx context.Context, tenantID, cardID string) (*lifecycle.CardSnapshot, error)
	ListTransitions(ctx context.Context, tenantID, cardID string) ([]model.CardTransition, error)
	SetQueueRiskLookbackDays(ctx context.Context, tenantID string, days int) (int, error)
}

// Deps is everything the HTTP layer calls into.
type Deps struct {
	Orchestrator *lifecycle.Orchestrator
	Scans        *lifecycle.ScanService
	Risk         *queuerisk.Scanner
	Cards        CardQueries
	// RDB backs the scan rate limiter; nil disables it.
	RDB    rd.Scripter
	Config config.AppConfig
	Log    *zap.Logger
}

// Setup registers every HTTP route.
func Setup(r *gin.Engine, d Deps) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")

	// public scan entry; the card id is the only credential
	scanHandlers := []gin.HandlerFunc{}
	if d.RDB != nil {
		scanHandlers = append(scanHandlers, middleware.ScanRateLimit(d.RDB, d.Config.ScanRateLimit, d.Config.ScanRateWindow, d.Log))
	}
	scanHandlers = append(scanHandlers, scanCard(d.Scans))
	api.POST("/scan/:card_id", scanHandlers...)

	authed := api.Group("", middleware.RequireTenant())
	authed.GET("/cards/:card_id", getCard(d.Cards))
	authed.POST("/cards/:card_id/transition", transitionCard(d.Orchestrator))
	authed.GET("/cards/:card_id/transitions", listTransitions(d.Cards))
	authed.POST("/scan/replay", replayScans(d.Scans))
	authed.GET("/queue/risk", queueRisk(d.Risk))
	authed.PUT("/settings/queue-risk", updateQueueRiskSettings(d.Cards))
}

// writeError renders a domain error with its status, anything else as 500.
func writeError(c *gin.Context, err error) {
	var de *lifecycle.Error
	if errors.As(err, &de) {
		body := gin.H{"code": de.Code, "msg": de.Message}
		if de.Field != "" {
			body["field"] = de.Field
		}
		if de.Resolution != "" {
			body["resolution"] = de.Resolution
		}
		if de.ExistingStatus != "" {
			body["existing_status"] = de.ExistingStatus
		}
		c.JSON(de.HTTPStatus(), body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": lifecycle.CodeUnknown, "msg": err.Error()})
}

func badRequest(c *gin.Context, field, msg string) {
	writeError(c, &lifecycle.Error{Code: lifecycle.CodeValidation, Field: field, Message: msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": "OK", "data": data})
}

// idempotencyKey prefers the header over the body.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if k := strings.TrimSpace(c.GetHeader(headerIdempotencyKey)); k != "" {
		return k
	}
	return strings.TrimSpace(fromBody)
}

func getCard(cards CardQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.PrincipalFrom(c)
		snap, err := cards.GetCard(c.Request.Context(), p.TenantID, c.Param("card_id"))
		if errors.Is(err, lifecycle.ErrCardNotFound) {
			writeError(c, &lifecycle.Error{Code: lifecycle.CodeCardNotFound, Message: "card not found"})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{
			"card":        snap.Card,
			"loop_type":   snap.Loop.LoopType,
			"part_id":     snap.Loop.PartID,
			"next_stages": lifecycle.NextStages(snap.Card.CurrentStage),
		})
	}
}

// transitionCard is the authenticated stage change.
func transitionCard(orch *lifecycle.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ToStage         model.Stage     `json:"to_stage" binding:"required"`
			Method          model.Method    `json:"method"`
			IdempotencyKey  string          `json:"idempotency_key"`
			LinkedOrderID   string          `json:"linked_order_id"`
			LinkedOrderType model.OrderType `json:"linked_order_type"`
			Notes           string          `json:"notes" binding:"max=1024"`
			Metadata        map[string]any  `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "body", err.Error())
			return
		}

		p := middleware.PrincipalFrom(c)
		res, err := orch.TransitionCard(c.Request.Context(), lifecycle.TransitionRequest{
			TenantID:        p.TenantID,
			CardID:          c.Param("card_id"),
			ToStage:         req.ToStage,
			UserID:          p.UserID,
			Role:            lifecycle.Role(p.Role),
			Method:          req.Method,
			IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
			LinkedOrderID:   req.LinkedOrderID,
			LinkedOrderType: req.LinkedOrderType,
			Notes:           req.Notes,
			Metadata:        req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, res)
	}
}

func listTransitions(cards CardQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.PrincipalFrom(c)
		cardID := c.Param("card_id")
		if _, err := cards.GetCard(c.Request.Context(), p.TenantID, cardID); err != nil {
			if errors.Is(err, lifecycle.ErrCardNotFound) {
				writeError(c, &lifecycle.Error{Code: lifecycle.CodeCardNotFound, Message: "card not found"})
				return
			}
			writeError(c, err)
			return
		}
		rows, err := cards.ListTransitions(c.Request.Context(), p.TenantID, cardID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, rows)
	}
}

// scanCard is the public QR scan. An X-Tenant-ID header, when sent, must match the card.
func scanCard(scans *lifecycle.ScanService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IdempotencyKey string         `json:"idempotency_key"`
			UserID         string         `json:"user_id"`
			Metadata       map[string]any `json:"metadata"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "body", err.Error())
				return
			}
		}

		// the caller is unauthenticated, so a claimed user id is never recorded as the actor
		meta := req.Metadata
		if uid := strings.TrimSpace(req.UserID); uid != "" {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["reportedUserId"] = uid
		}

		res, err := scans.TriggerCardByScan(c.Request.Context(), lifecycle.ScanRequest{
			CardID:         c.Param("card_id"),
			IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
			TenantHint:     strings.TrimSpace(c.GetHeader(middleware.HeaderTenantID)),
			Metadata:       meta,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, res)
	}
}

// replayScans drains an offline device queue in order.
func replayScans(scans *lifecycle.ScanService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Items []lifecycle.ReplayItem `json:"items" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "items", err.Error())
			return
		}
		if len(req.Items) > maxReplayItems {
			badRequest(c, "items", "too many items, max "+strconv.Itoa(maxReplayItems))
			return
		}

		p := middleware.PrincipalFrom(c)
		results := scans.ReplayScans(c.Request.Context(), p.TenantID, p.UserID, req.Items)
		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		ok(c, gin.H{
			"results":   results,
			"total":     len(results),
			"succeeded": succeeded,
			"failed":    len(results) - succeeded,
		})
	}
}

// queueRisk scores the tenant's triggered cards. emit=true also publishes risk events.
func queueRisk(scanner *queuerisk.Scanner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q struct {
			Limit        int  `form:"limit" binding:"omitempty,min=1"`
			LookbackDays int  `form:"lookback_days" binding:"omitempty,min=1"`
			Emit         bool `form:"emit"`
		}
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, "query", err.Error())
			return
		}

		p := middleware.PrincipalFrom(c)
		res, err := scanner.Scan(c.Request.Context(), p.TenantID, queuerisk.Options{
			Limit:        q.Limit,
			LookbackDays: q.LookbackDays,
			Emit:         q.Emit,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, res)
	}
}

func updateQueueRiskSettings(cards CardQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			LookbackDays int `json:"lookback_days" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "lookback_days", err.Error())
			return
		}
		p := middleware.PrincipalFrom(c)
		days, err := cards.SetQueueRiskLookbackDays(c.Request.Context(), p.TenantID, req.LookbackDays)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"lookback_days": days, "updated_at": time.Now().UTC()})
	}
}
