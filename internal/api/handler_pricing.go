package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/recommend"
)

const keepAliveInterval = 15 * time.Second

type quoteQuery struct {
	RepairType string `form:"repair_type" binding:"required"`
	Device     string `form:"device"`
	Express    bool   `form:"express"`
}

// GetFactors returns the current market factors snapshot.
func (h *Handler) GetFactors(c *gin.Context) {
	c.JSON(http.StatusOK, h.factors.Snapshot(c.Request.Context()))
}

// PatchFactors merge-patches the market factors by hand.
func (h *Handler) PatchFactors(c *gin.Context) {
	var patch pricing.FactorsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patch changes nothing"})
		return
	}
	c.JSON(http.StatusOK, h.factors.Update(patch))
}

// estimate binds the quote query and looks up the base price. It writes the
// error response itself and returns false on failure.
func (h *Handler) estimate(c *gin.Context) (catalog.Estimate, bool) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return catalog.Estimate{}, false
	}
	est, err := h.estimator.CalculatePrice(c.Request.Context(), q.Device, q.RepairType, catalog.Options{Express: q.Express})
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownRepairType) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			log.Printf("Error estimating %s: %v", q.RepairType, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return catalog.Estimate{}, false
	}
	return est, true
}

func (h *Handler) saveQuote(c *gin.Context, est catalog.Estimate, q recommend.PriceUpdate) error {
	return h.store.SaveQuote(c.Request.Context(), &model.PriceQuote{
		ID:             q.QuoteID,
		RepairTypeID:   est.RepairTypeID,
		Device:         est.Device,
		Express:        est.Express,
		BasePrice:      q.BasePrice,
		AdjustedPrice:  q.AdjustedPrice,
		AdjustmentPct:  q.AdjustmentPercentage,
		Recommendation: string(q.Recommendation),
		Confidence:     q.Confidence,
		FactorsOrigin:  string(q.FactorsOrigin),
		Factors:        q.Factors,
		FiredRules:     q.FiredRules,
		ValidUntil:     q.ValidUntil,
	})
}

// GetQuote prices a repair against the live factors and records the quote.
func (h *Handler) GetQuote(c *gin.Context) {
	est, ok := h.estimate(c)
	if !ok {
		return
	}
	quote, err := h.composer.Quote(c.Request.Context(), est.Total)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := h.saveQuote(c, est, quote); err != nil {
		log.Printf("Error saving quote %s: %v", quote.QuoteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record quote"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"estimate": est, "quote": quote})
}

// GetRecommendations compares booking now with the next hour and tomorrow.
func (h *Handler) GetRecommendations(c *gin.Context) {
	est, ok := h.estimate(c)
	if !ok {
		return
	}
	recs, err := h.composer.Recommend(c.Request.Context(), est.Total)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := h.saveQuote(c, est, recs.Current); err != nil {
		log.Printf("Error saving quote %s: %v", recs.Current.QuoteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record quote"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"estimate": est, "recommendations": recs})
}

// StreamQuotes sends a fresh quote as a server-sent event every time the
// market factors change. Streamed quotes are not recorded.
func (h *Handler) StreamQuotes(c *gin.Context) {
	est, ok := h.estimate(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	changed := make(chan struct{}, 1)
	remove := h.factors.OnChange(func(factors.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer remove()

	send := func() bool {
		quote, err := h.composer.Quote(ctx, est.Total)
		if err != nil {
			c.SSEvent("error", gin.H{"error": err.Error()})
			return false
		}
		c.SSEvent("quote", quote)
		return true
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			return send()
		}
		select {
		case <-changed:
			return send()
		case <-keepAlive.C:
			c.SSEvent("keepalive", time.Now().UTC())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// GetRules returns the active pricing rules.
func (h *Handler) GetRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.composer.Rules()})
}

// PutRules replaces the active pricing rules. Invalid rules are dropped and
// reported; if none survive the rule set is left unchanged.
func (h *Handler) PutRules(c *gin.Context) {
	var rules []pricing.Rule
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	valid, err := pricing.LoadRules(rules)
	if len(valid) == 0 && len(rules) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.composer.SetRules(valid)
	log.Printf("Pricing rules replaced: %d active", len(valid))

	body := gin.H{"rules": valid}
	if err != nil {
		body["rejected"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}
