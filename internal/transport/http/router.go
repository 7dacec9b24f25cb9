package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/venuehub/marketplace/internal/config"
	"github.com/venuehub/marketplace/internal/service"
)

// Services groups everything the handlers need.
type Services struct {
	Wallet   *service.WalletService
	Venues   *service.VenueService
	Bookings *service.BookingService
	Payments *service.PaymentService
	Drafts   *service.DraftService
}

// NewRouter wires middleware and handlers.
func NewRouter(svcs Services, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	RegisterHandlers(r, svcs, cfg, log)
	return r
}
