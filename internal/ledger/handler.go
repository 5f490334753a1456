package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/auction"
	"github.com/flashbid/flashbid/internal/models"
	"github.com/flashbid/flashbid/internal/sweeper"
)

// Handler exposes the ledger over HTTP for the request-handling glue.
type Handler struct {
	service *Service
	sweep   *sweeper.Sweeper
}

func NewHandler(service *Service, sweep *sweeper.Sweeper) *Handler {
	return &Handler{service: service, sweep: sweep}
}

type createAuctionRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	StartPrice  float64   `json:"startPrice" binding:"required"`
	SellerID    string    `json:"sellerId" binding:"required"`
	EndsAt      time.Time `json:"endsAt" binding:"required"`
}

type placeBidRequest struct {
	BidderID   string  `json:"bidderId" binding:"required"`
	BidderName string  `json:"bidderName"`
	Amount     float64 `json:"amount" binding:"required"`
}

// CreateAuctionHandler handles POST /api/auctions
func (h *Handler) CreateAuctionHandler(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	created, err := h.service.CreateAuction(c.Request.Context(), models.Auction{
		Title:       req.Title,
		Description: req.Description,
		StartPrice:  req.StartPrice,
		SellerID:    req.SellerID,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidAuction) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("failed to create auction")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create auction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "auction": created})
}

// ListAuctionsHandler handles GET /api/auctions
func (h *Handler) ListAuctionsHandler(c *gin.Context) {
	auctions, err := h.service.ListOpenAuctions(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list auctions"})
		return
	}
	if auctions == nil {
		auctions = []models.Auction{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "auctions": auctions})
}

// GetAuctionHandler handles GET /api/auctions/:auction_id
func (h *Handler) GetAuctionHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("auction_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid auction id"})
		return
	}

	a, err := h.service.GetAuction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "auction not found"})
			return
		}
		log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to get auction")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to get auction"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "auction": a})
}

// PlaceBidHandler handles POST /api/auctions/:auction_id/bids
func (h *Handler) PlaceBidHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("auction_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid auction id"})
		return
	}

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	receipt, err := h.service.PlaceBid(c.Request.Context(), PlaceBidRequest{
		AuctionID:  id,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     req.Amount,
	})
	if err != nil {
		h.writeBidError(c, id, req.BidderID, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "newPrice": receipt.NewPrice})
}

// writeBidError maps the ledger's typed bid rejections onto HTTP statuses.
// Rejections are expected outcomes; only storage failures log as errors.
func (h *Handler) writeBidError(c *gin.Context, auctionID uuid.UUID, bidderID string, err error) {
	var rateLimited *RateLimitedError
	var tooLow *BidTooLowError

	switch {
	case errors.Is(err, auction.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "auction not found"})
	case errors.Is(err, ErrAuctionClosed), errors.Is(err, ErrAuctionExpired):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, ErrSelfBid):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &rateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":      false,
			"error":        rateLimited.Error(),
			"retryAfterMs": rateLimited.RetryAfter.Milliseconds(),
		})
	case errors.As(err, &tooLow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success":    false,
			"error":      tooLow.Error(),
			"minimumBid": tooLow.MinimumBid,
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "bid conflicted with a concurrent bid, try again"})
	default:
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID).
			Msg("failed to place bid")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to place bid"})
	}
}

// SweepHandler handles POST /api/sweep, the on-demand sweep trigger.
func (h *Handler) SweepHandler(c *gin.Context) {
	closed, err := h.sweep.Sweep(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("on-demand sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "closedCount": closed})
}
