package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuehub/marketplace/internal/apperr"
	"github.com/venuehub/marketplace/internal/config"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/money"
	"github.com/venuehub/marketplace/internal/repo"
	"github.com/venuehub/marketplace/internal/service"
	"github.com/venuehub/marketplace/internal/stripe"
)

// RegisterHandlers mounts all /v1 routes.
func RegisterHandlers(r *gin.Engine, svcs Services, cfg *config.Config, log *zap.SugaredLogger) {
	v1 := r.Group("/v1")
	{
		v1.POST("/webhooks/stripe", webhookHandler(svcs.Payments, cfg.Stripe.WebhookSecret, log))
		v1.GET("/venues", listVenuesHandler(svcs.Venues))
		v1.GET("/venues/:id", getVenueHandler(svcs.Venues))
	}

	authed := v1.Group("", AuthMiddleware(cfg.Auth.JWTSecret))
	{
		authed.POST("/venues", createVenueHandler(svcs.Venues))
		authed.PATCH("/venues/:id", updateVenueHandler(svcs.Venues))
		authed.POST("/bookings", createBookingHandler(svcs.Bookings))
		authed.GET("/bookings/:id", getBookingHandler(svcs.Bookings))
		authed.POST("/bookings/:id/checkout", checkoutHandler(svcs.Payments))
		authed.POST("/bookings/:id/cancel", cancelBookingHandler(svcs.Bookings, svcs.Payments))
		authed.GET("/wallet", walletBalanceHandler(svcs.Wallet))
		authed.GET("/wallet/entries", walletHistoryHandler(svcs.Wallet))
		authed.POST("/wallet/topup", topUpHandler(svcs.Payments))
		authed.PUT("/drafts/:form", saveDraftHandler(svcs.Drafts))
		authed.GET("/drafts/:form", loadDraftHandler(svcs.Drafts))
		authed.DELETE("/drafts/:form", discardDraftHandler(svcs.Drafts))
	}
}

// respondErr converts a service error into a status plus user-safe body.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrInsufficientCredit):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		t := apperr.TypeOf(err)
		c.JSON(apperr.HTTPStatus(t), gin.H{"error": apperr.Message(err), "type": t.String()})
	}
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type createVenueReq struct {
	Name        string `json:"name" binding:"required,max=128"`
	City        string `json:"city" binding:"required,max=64"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity" binding:"required,gte=1"`
	HourlyRate  string `json:"hourly_rate" binding:"required,money"`
}

func createVenueHandler(svc *service.VenueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createVenueReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rate, _ := money.ParseDollars(req.HourlyRate)
		v := &model.Venue{
			OwnerID:     currentUser(c),
			Name:        req.Name,
			City:        req.City,
			Description: req.Description,
			Capacity:    req.Capacity,
			HourlyRate:  rate.Decimal(),
		}
		if err := svc.Create(c, v); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

type updateVenueReq struct {
	Name        *string `json:"name" binding:"omitempty,max=128"`
	City        *string `json:"city" binding:"omitempty,max=64"`
	Description *string `json:"description"`
	Capacity    *int    `json:"capacity" binding:"omitempty,gte=1"`
	HourlyRate  *string `json:"hourly_rate" binding:"omitempty,money"`
	Published   *bool   `json:"published"`
}

func updateVenueHandler(svc *service.VenueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req updateVenueReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := svc.Update(c, currentUser(c), id, func(v *model.Venue) {
			if req.Name != nil {
				v.Name = *req.Name
			}
			if req.City != nil {
				v.City = *req.City
			}
			if req.Description != nil {
				v.Description = *req.Description
			}
			if req.Capacity != nil {
				v.Capacity = *req.Capacity
			}
			if req.HourlyRate != nil {
				rate, _ := money.ParseDollars(*req.HourlyRate)
				v.HourlyRate = rate.Decimal()
			}
			if req.Published != nil {
				v.Published = *req.Published
			}
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func getVenueHandler(svc *service.VenueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		v, err := svc.Get(c, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		if !v.Published {
			respondErr(c, apperr.New(apperr.NotFound, "venue not found"))
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func listVenuesHandler(svc *service.VenueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := repo.VenueQuery{
			City:   c.Query("city"),
			Search: c.Query("q"),
			Sort:   c.Query("sort"),
		}
		q.MinCapacity, _ = strconv.Atoi(c.DefaultQuery("min_capacity", "0"))
		q.MaxCapacity, _ = strconv.Atoi(c.DefaultQuery("max_capacity", "0"))
		q.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
		q.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if raw := c.Query("max_hourly_rate"); raw != "" {
			rate, err := money.ParseDollars(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_hourly_rate"})
				return
			}
			q.MaxHourlyRate = rate.Decimal()
		}
		page, err := svc.List(c, q)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

type createBookingReq struct {
	VenueID  uint64 `json:"venue_id" binding:"required"`
	StartsAt string `json:"starts_at" binding:"required"`
	Hours    int    `json:"hours" binding:"required,gte=1,lte=24"`
}

func createBookingHandler(svc *service.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBookingReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid starts_at"})
			return
		}
		b, err := svc.Create(c, currentUser(c), req.VenueID, startsAt, req.Hours)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}

func getBookingHandler(svc *service.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		b, err := svc.Get(c, currentUser(c), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

type checkoutReq struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func checkoutHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req checkoutReq
		_ = c.ShouldBindJSON(&req)
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = uuid.NewString()
		}
		res, err := svc.StartCheckout(c, currentUser(c), id, req.IdempotencyKey)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func cancelBookingHandler(bookings *service.BookingService, payments *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		user := currentUser(c)
		b, err := bookings.Get(c, user, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		var req checkoutReq
		_ = c.ShouldBindJSON(&req)
		if req.IdempotencyKey == "" {
			// stable across retries so a half-finished cancel can't
			// refund the card twice
			req.IdempotencyKey = fmt.Sprintf("refund:%d", id)
		}
		if b.Status == model.BookingConfirmed {
			if err := payments.Refund(c, user, id, req.IdempotencyKey); err != nil {
				respondErr(c, err)
				return
			}
		} else if err := bookings.CancelPending(c, user, id); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": model.BookingCancelled})
	}
}

func walletBalanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.Balance(c, currentUser(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal.StringFixed(2)})
	}
}

func walletHistoryHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-30*24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		entries, err := svc.History(c, currentUser(c), limit, since)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

type topUpReq struct {
	Amount         string `json:"amount" binding:"required,money"`
	IdempotencyKey string `json:"idempotency_key"`
}

func topUpHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req topUpReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount, _ := money.ParseDollars(req.Amount)
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = uuid.NewString()
		}
		res, err := svc.StartTopUp(c, currentUser(c), amount, req.IdempotencyKey)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func webhookHandler(svc *service.PaymentService, secret string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
			return
		}
		evt, err := stripe.ParseEvent(payload, c.GetHeader("Stripe-Signature"), secret, stripe.DefaultTolerance, time.Now())
		if err != nil {
			log.Warnf("webhook rejected: %v", err)
			respondErr(c, err)
			return
		}
		if err := svc.HandleEvent(c, evt); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func saveDraftHandler(svc *service.DraftService) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
			return
		}
		if err := svc.Save(c, currentUser(c), c.Param("form"), json.RawMessage(payload)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": true})
	}
}

func loadDraftHandler(svc *service.DraftService) gin.HandlerFunc {
	return func(c *gin.Context) {
		draft, err := svc.Load(c, currentUser(c), c.Param("form"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", draft)
	}
}

func discardDraftHandler(svc *service.DraftService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Discard(c, currentUser(c), c.Param("form")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
