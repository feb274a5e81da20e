// Package app wires the pricing and booking components into one service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"repair-pricing-backend/config"
	"repair-pricing-backend/internal/api"
	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/db"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/httpx"
	"repair-pricing-backend/internal/model"
	"repair-pricing-backend/internal/notification"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/realtime"
	"repair-pricing-backend/internal/recommend"
	"repair-pricing-backend/internal/store"
	"repair-pricing-backend/internal/subscription"
)

// Deps overrides components New would otherwise build from the configuration.
// Every field is optional.
type Deps struct {
	DB            *gorm.DB
	FactorsSource factors.Source
	Simulator     recommend.Simulator
	Dialer        *websocket.Dialer
	Sender        notification.NotificationSender
}

// App owns every long-lived component of the service.
type App struct {
	cfg *config.Config

	DB        *gorm.DB
	Store     store.Store
	Transport *realtime.Transport
	Events    *subscription.Router
	Factors   *factors.Provider
	Composer  *recommend.Composer
	Estimator *catalog.Estimator
	Bookings  *booking.HTTPProgressStore
	Tracker   *booking.Tracker
	Notifier  *notification.WorkerPool
	Handler   http.Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup []func()
}

// New builds the service from cfg. Nothing is started until Start.
func New(cfg *config.Config, deps Deps) (*App, error) {
	a := &App{cfg: cfg}

	a.DB = deps.DB
	if a.DB == nil {
		gormDB, err := db.Init(&cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = gormDB
	}
	a.Store = store.NewGormStore(a.DB)

	a.Events = subscription.NewRouter()
	var transportOpts []realtime.Option
	transportOpts = append(transportOpts,
		realtime.WithReplay(a.Events.Descriptors),
		realtime.WithReset(a.Events.Reset),
	)
	if deps.Dialer != nil {
		transportOpts = append(transportOpts, realtime.WithDialer(deps.Dialer))
	}
	a.Transport = realtime.NewTransport(realtime.Options{
		URL:                  cfg.Realtime.URL,
		Token:                cfg.Realtime.Token,
		BaseDelay:            cfg.Realtime.BaseDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Realtime.Heartbeat,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
	}, transportOpts...)
	a.Transport.OnMessage(a.Events.Dispatch)
	a.Transport.OnStateChange(func(s realtime.State) {
		log.WithField("state", s).Info("Push channel state changed")
	})
	a.Transport.OnReconnectAttempt(func(attempt int, delay time.Duration) {
		log.WithFields(log.Fields{"attempt": attempt, "delay": delay}).Info("Reconnecting push channel")
	})
	a.Events.SetAnnouncer(a.Transport.SendEnvelope)

	source := deps.FactorsSource
	if source == nil && cfg.Factors.URL != "" {
		source = factors.NewHTTPSource(cfg.Factors.URL, cfg.Factors.Token, httpx.NewClient(cfg.Factors.HTTPProxy, cfg.Factors.Timeout))
	}
	providerOpts := []factors.Option{factors.WithInterval(cfg.Factors.RefreshInterval)}
	if cfg.Realtime.URL != "" {
		providerOpts = append(providerOpts, factors.WithGate(a.Transport.Connected))
	}
	a.Factors = factors.NewProvider(source, providerOpts...)
	a.Events.Subscribe(realtime.TypePricingUpdate, a.Factors.HandlePush)
	a.Events.Subscribe(realtime.TypeQueueUpdate, a.Factors.HandlePush)

	composerOpts := []recommend.Option{recommend.WithTTL(cfg.Pricing.QuoteTTL)}
	if deps.Simulator != nil {
		composerOpts = append(composerOpts, recommend.WithSimulator(deps.Simulator))
	} else if cfg.Pricing.SimulatorSeed != 0 {
		composerOpts = append(composerOpts, recommend.WithSimulator(recommend.NewRandomSimulator(cfg.Pricing.SimulatorSeed)))
	}
	a.Composer = recommend.NewComposer(pricing.NewEngine(cfg.Pricing.Limits()), a.Factors, cfg.Pricing.Rules, composerOpts...)
	a.Estimator = catalog.NewEstimator(a.Store)

	a.Bookings = booking.NewHTTPProgressStore(cfg.Bookings.URL, cfg.Bookings.Token, httpx.NewClient(cfg.Bookings.HTTPProxy, cfg.Bookings.Timeout))
	a.Tracker = booking.NewTracker(a.Events, a.Bookings, cfg.Bookings.Timeout)

	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	a.Notifier = notification.NewWorkerPool(cfg.WorkerPool.Size, a.Store, webpushOptions)
	if deps.Sender != nil {
		a.Notifier.SetSender(deps.Sender)
	}
	a.cleanup = append(a.cleanup, a.Tracker.OnAnyStatusChange(a.recordStatusChange))

	a.Handler = api.NewRouter(cfg.Server, api.NewHandler(api.Services{
		Store:     a.Store,
		Estimator: a.Estimator,
		Composer:  a.Composer,
		Factors:   a.Factors,
		Tracker:   a.Tracker,
		Bookings:  a.Bookings,
		Realtime:  a.Transport,
		WebPush:   webpushOptions,
	}))

	return a, nil
}

// recordStatusChange logs every observed status update and queues the push
// notification for it.
func (a *App) recordStatusChange(change booking.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Bookings.Timeout)
	defer cancel()

	record := &model.BookingStatusRecord{
		BookingID:      change.Update.BookingID,
		Status:         string(change.Update.Status),
		PreviousStatus: string(change.Previous),
		Valid:          change.Valid,
		UpdatedBy:      change.Update.UpdatedBy,
		Notes:          change.Update.Notes,
		ObservedAt:     change.Update.Timestamp,
	}
	if err := a.Store.RecordStatusUpdate(ctx, record); err != nil {
		log.Printf("Error recording status update for booking %s: %v", record.BookingID, err)
	}
	a.Notifier.Dispatch(change)
}

// Start seeds the catalog, starts the background loops and connects the push
// channel. A missing or expired token fails immediately; an unreachable push
// server is retried in the background.
func (a *App) Start(ctx context.Context) error {
	if err := catalog.Seed(ctx, a.Store, a.cfg.Catalog); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.Notifier.Start(ctx)

	// The transport stops after MaxReconnectAttempts; keep trying from here.
	a.Transport.OnError(func(err error) {
		if errors.Is(err, realtime.ErrReconnectExhausted) {
			log.Warn("Push channel reconnects exhausted; falling back to slow retries.")
			a.startConnectLoop(ctx)
		}
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Factors.Run(ctx)
	}()

	if a.cfg.Realtime.URL == "" {
		log.Warn("No push channel configured; serving with polled market factors only.")
		return nil
	}

	err := a.Transport.Connect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, realtime.ErrMissingToken), errors.Is(err, realtime.ErrTokenExpired), errors.Is(err, realtime.ErrMissingURL):
		cancel()
		return err
	}
	log.Warnf("Push channel unavailable, retrying in the background: %v", err)
	a.startConnectLoop(ctx)
	return nil
}

func (a *App) startConnectLoop(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.connectLoop(ctx)
	}()
}

// connectLoop retries the first handshake with capped exponential backoff.
// Once connected the transport handles reconnection itself.
func (a *App) connectLoop(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(realtime.Backoff(a.cfg.Realtime.BaseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		err := a.Transport.Connect(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, realtime.ErrTokenExpired) {
			log.Errorf("Giving up on the push channel: %v", err)
			return
		}
		log.Printf("Push channel connect attempt %d failed: %v", attempt, err)
	}
}

// Shutdown disconnects the push channel and stops the background loops.
func (a *App) Shutdown() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.Transport.Disconnect()
	a.Tracker.Wait()
	for _, fn := range a.cleanup {
		fn()
	}
	a.cleanup = nil
	log.Println("Service stopped.")
}
