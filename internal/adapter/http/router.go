package http

import (
	"github.com/aq2208/storefront-api/internal/adapter/http/middleware"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	CheckoutRPS   float64
	CheckoutBurst int
}

func NewRouter(h *OrderHandler, authz *middleware.Authz, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics())
	r.Use(middleware.Logging(logging.New("http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := middleware.RateLimit(opts.CheckoutRPS, opts.CheckoutBurst)
	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/v1")} {
		g.POST("/orders", limit, authz.Optional(), h.PlaceOrder)
		g.GET("/orders/:trackingCode", h.TrackOrder)
	}

	admin := r.Group("/admin", authz.Require("orders.admin"))
	{
		admin.PATCH("/orders/:id/status", h.UpdateStatus)
	}

	return r
}
