package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/recommend"
)

type quoteResponse struct {
	Estimate catalog.Estimate      `json:"estimate"`
	Quote    recommend.PriceUpdate `json:"quote"`
}

func intPtr(v int) *int { return &v }

func TestGetQuote(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/pricing/quote?repair_type=screen&device=Pixel+8&express=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body quoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "186.25", body.Estimate.Total.StringFixed(2))
	assert.Equal(t, "Pixel 8", body.Estimate.Device)
	assert.Equal(t, "186.25", body.Quote.AdjustedPrice.StringFixed(2))
	assert.Equal(t, recommend.Accept, body.Quote.Recommendation)
	assert.Equal(t, factors.OriginSource, body.Quote.FactorsOrigin)
	assert.Equal(t, 90, body.Quote.Confidence)
	assert.True(t, testClock.Add(recommend.DefaultTTL).Equal(body.Quote.ValidUntil))

	var stored model.PriceQuote
	require.NoError(t, env.store.DB().First(&stored, "id = ?", body.Quote.QuoteID).Error)
	assert.Equal(t, "screen", stored.RepairTypeID)
	assert.True(t, stored.Express)
	assert.Equal(t, "186.25", stored.AdjustedPrice.StringFixed(2))
}

func TestGetQuote_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/pricing/quote", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/pricing/quote?repair_type=teleporter", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown repair type")
}

func TestPatchFactorsChangesQuotes(t *testing.T) {
	env := newTestEnv(t)

	w := env.doAdmin(http.MethodPatch, "/api/pricing/factors", `{"queueLength": 12}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap factors.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, factors.OriginManual, snap.Origin)
	assert.Equal(t, 12, snap.Factors.QueueLength)
	assert.Equal(t, 3, snap.Factors.AvailableTechnicians)

	w = env.do(http.MethodGet, "/api/pricing/quote?repair_type=screen", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body quoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "171.35", body.Quote.AdjustedPrice.StringFixed(2))
	assert.Equal(t, []string{"high-queue"}, body.Quote.FiredRules)

	w = env.doAdmin(http.MethodPatch, "/api/pricing/factors", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorRoutesRequireAdminToken(t *testing.T) {
	env := newTestEnv(t)
	expired := signToken(t, testAdminSecret, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Minute).Unix()})
	forged := signToken(t, "not-the-secret", jwt.MapClaims{"role": "admin"})
	customer := signToken(t, testAdminSecret, jwt.MapClaims{"sub": "c-1", "role": "customer"})

	testCases := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong signature", forged, http.StatusUnauthorized},
		{"not an admin", customer, http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.doAs(tc.token, http.MethodPatch, "/api/pricing/factors", `{"queueLength": 40}`)
			assert.Equal(t, tc.want, w.Code)
			w = env.doAs(tc.token, http.MethodPut, "/api/pricing/rules", `[{"id": "free", "enabled": true, "adjustment": {"type": "multiplier", "value": 0}}]`)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	assert.Equal(t, 5, env.factors.Current(context.Background()).QueueLength)
	assert.Len(t, env.composer.Rules(), len(pricing.DefaultRules()))

	// Reads stay public.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/pricing/rules", "").Code)
}

func TestGetFactors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/pricing/factors", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap factors.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, pricing.DefaultFactors(), snap.Factors)
}

func TestGetRecommendations(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/pricing/recommendations?repair_type=battery", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Recommendations recommend.Recommendations `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	recs := body.Recommendations
	assert.Equal(t, "79.00", recs.Current.AdjustedPrice.StringFixed(2))
	assert.True(t, testClock.Add(time.Hour).Equal(recs.NextHour.At))
	assert.True(t, testClock.Add(24*time.Hour).Equal(recs.Tomorrow.At))
	assert.False(t, recs.Optimal.Price.GreaterThan(recs.Current.AdjustedPrice))
	assert.True(t, recs.Optimal.Savings.Equal(recs.Current.AdjustedPrice.Sub(recs.Optimal.Price)))
}

func TestRules(t *testing.T) {
	env := newTestEnv(t)

	w := env.doAdmin(http.MethodPut, "/api/pricing/rules", `[
		{"id": "flat", "enabled": true, "priority": 1, "adjustment": {"type": "fixed-amount", "value": 10}},
		{"id": "bad", "enabled": true, "conditions": [{"field": "queueLength", "operator": "approx", "value": 1}], "adjustment": {"type": "percentage", "value": 5}}
	]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "rejected")
	require.Len(t, env.composer.Rules(), 1)

	w = env.do(http.MethodGet, "/api/pricing/quote?repair_type=battery", "")
	var body quoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "89.00", body.Quote.AdjustedPrice.StringFixed(2))

	w = env.doAdmin(http.MethodPut, "/api/pricing/rules", `[{"id": "bad", "enabled": true, "adjustment": {"type": "bogus", "value": 1}}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, env.composer.Rules(), 1)

	w = env.do(http.MethodGet, "/api/pricing/rules", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flat"`)
}

// readEvent returns the data of the next server-sent event with the given name.
func readEvent(t *testing.T, r *bufio.Reader, name string) []byte {
	t.Helper()
	current := ""
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && current == name:
			return []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func TestStreamQuotes(t *testing.T) {
	env := newTestEnv(t)
	// Load the factors up front so the lazy fetch does not count as a change.
	env.factors.Current(context.Background())
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/pricing/stream?repair_type=screen", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	var first recommend.PriceUpdate
	require.NoError(t, json.Unmarshal(readEvent(t, reader, "quote"), &first))
	assert.Equal(t, "149.00", first.AdjustedPrice.StringFixed(2))

	env.factors.Update(pricing.FactorsPatch{QueueLength: intPtr(15)})

	var second recommend.PriceUpdate
	require.NoError(t, json.Unmarshal(readEvent(t, reader, "quote"), &second))
	assert.Equal(t, "171.35", second.AdjustedPrice.StringFixed(2))
	assert.NotEqual(t, first.QuoteID, second.QuoteID)
}

func TestListRepairTypesIsCached(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/repair-types", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RepairTypes []model.RepairType `json:"repair_types"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.RepairTypes, 2)
	assert.Equal(t, "screen", body.RepairTypes[0].ID)

	w = env.do(http.MethodGet, "/api/repair-types", "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestHealthAndVAPID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"realtime":"connected"`)

	w = env.do(http.MethodGet, "/api/vapid_public_key", "")
	assert.JSONEq(t, `{"public_key":"public-key"}`, w.Body.String())
}
