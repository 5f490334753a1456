package ledger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SetupRouter configures the gin routes for the ledger service.
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestLogger)

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := router.Group("/api")
	{
		api.POST("/auctions", handler.CreateAuctionHandler)
		api.GET("/auctions", handler.ListAuctionsHandler)
		api.GET("/auctions/:auction_id", handler.GetAuctionHandler)
		api.POST("/auctions/:auction_id/bids", handler.PlaceBidHandler)
		api.POST("/sweep", handler.SweepHandler)
	}

	return router
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger(c *gin.Context) {
	start := time.Now()

	c.Next()

	log.Info().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("latency", time.Since(start)).
		Msg("http request")
}
