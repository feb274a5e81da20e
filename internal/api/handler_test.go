package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"repair-pricing-backend/config"
	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/db"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/httpx"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/realtime"
	"repair-pricing-backend/internal/recommend"
	"repair-pricing-backend/internal/store"
	"repair-pricing-backend/internal/subscription"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBookings stands in for the remote bookings service.
type fakeBookings struct {
	mu       sync.Mutex
	progress map[string]booking.Progress
	messages map[string][]booking.CustomerMessage
	read     []string
	actions  []string
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{
		progress: make(map[string]booking.Progress),
		messages: make(map[string][]booking.CustomerMessage),
	}
}

func notFound(path string) error {
	return &httpx.StatusError{Method: http.MethodGet, URL: path, Code: http.StatusNotFound}
}

func (f *fakeBookings) setProgress(p booking.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[p.BookingID] = p
}

func (f *fakeBookings) Progress(_ context.Context, bookingID string) (booking.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[bookingID]
	if !ok {
		return booking.Progress{}, fmt.Errorf("fetch progress: %w", notFound(bookingID))
	}
	return p, nil
}

func (f *fakeBookings) StatusHistory(_ context.Context, bookingID string) ([]booking.StatusUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[bookingID]
	if !ok {
		return nil, fmt.Errorf("fetch status history: %w", notFound(bookingID))
	}
	return p.History, nil
}

func (f *fakeBookings) Messages(_ context.Context, bookingID string) ([]booking.CustomerMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[bookingID], nil
}

func (f *fakeBookings) MarkMessageRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageID == "missing" {
		return notFound(messageID)
	}
	f.read = append(f.read, messageID)
	return nil
}

func (f *fakeBookings) PerformMessageAction(_ context.Context, messageID, actionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, messageID+"/"+actionID)
	return nil
}

type fixedState realtime.State

func (s fixedState) State() realtime.State { return realtime.State(s) }

// testEnv is a fully wired handler on an in-memory SQLite database.
type testEnv struct {
	router     *gin.Engine
	adminToken string
	store      store.Store
	factors    *factors.Provider
	composer   *recommend.Composer
	events     *subscription.Router
	tracker    *booking.Tracker
	bookings   *fakeBookings
}

var testClock = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const testAdminSecret = "test-admin-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestEnv(t *testing.T) *testEnv {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(&config.DatabaseConfig{
		DSN: fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.NewGormStore(gormDB)
	require.NoError(t, s.UpsertRepairTypes(context.Background(), []model.RepairType{
		{ID: "screen", Name: "Screen replacement", Category: "display", BasePrice: decimal.RequireFromString("149"), ExpressPremium: 1.25, DurationMinutes: 90},
		{ID: "battery", Name: "Battery replacement", Category: "power", BasePrice: decimal.RequireFromString("79"), ExpressPremium: 1.2, DurationMinutes: 45},
	}))

	provider := factors.NewProvider(factors.StaticSource(pricing.DefaultFactors()))
	composer := recommend.NewComposer(
		pricing.NewEngine(pricing.DefaultLimits()),
		provider,
		pricing.DefaultRules(),
		recommend.WithClock(func() time.Time { return testClock }),
		recommend.WithSimulator(recommend.NewRandomSimulator(1)),
	)
	events := subscription.NewRouter()
	bookings := newFakeBookings()
	tracker := booking.NewTracker(events, bookings, time.Second)

	handler := NewHandler(Services{
		Store:     s,
		Estimator: catalog.NewEstimator(s),
		Composer:  composer,
		Factors:   provider,
		Tracker:   tracker,
		Bookings:  bookings,
		Realtime:  fixedState(realtime.StateConnected),
		WebPush:   &webpush.Options{VAPIDPublicKey: "public-key"},
	})
	router := NewRouter(config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTL:        time.Minute,
		AdminJWTSecret:  testAdminSecret,
	}, handler)

	return &testEnv{
		router:     router,
		adminToken: signToken(t, testAdminSecret, jwt.MapClaims{"sub": "ops", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}),
		store:      s,
		factors:    provider,
		composer:   composer,
		events:     events,
		tracker:    tracker,
		bookings:   bookings,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs("", method, path, body)
}

// doAdmin sends the request with an operator bearer token.
func (e *testEnv) doAdmin(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs(e.adminToken, method, path, body)
}

func (e *testEnv) doAs(token, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
