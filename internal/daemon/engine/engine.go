// Package engine wires the subscription channel, registry, kernel proxy,
// result dispatcher and scheduler into one running proxy.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/channel"
	"github.com/sage3/foresight/pkg/dedup"
	"github.com/sage3/foresight/pkg/dispatch"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/registry"
	"github.com/sage3/foresight/pkg/scheduler"
	"github.com/sage3/foresight/pkg/smartbits"
	"github.com/sirupsen/logrus"
)

// Routes subscribed on every connection.
var DefaultRoutes = []string{"/api/apps", "/api/boards", "/api/rooms"}

const (
	appsRoute     = "/api/apps"
	actionBuffer  = 256
	populateLimit = 30 * time.Second
)

// Option customizes an Engine, mostly for tests.
type Option func(*Engine)

// WithBackend replaces the HTTP kernel backend.
func WithBackend(b kernel.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithRedis replaces the Redis client built from the configuration.
func WithRedis(rdb *redis.Client) Option {
	return func(e *Engine) { e.rdb = rdb }
}

// WithResultSource replaces the Redis results subscription.
func WithResultSource(src dispatch.Source) Option {
	return func(e *Engine) { e.source = src }
}

// Engine owns every component of a single run. Nothing in it is global:
// the engine is the context object SmartBits reach the outside world through.
type Engine struct {
	cfg    *config.Config
	logger *logrus.Entry

	backend    kernel.Backend
	rdb        *redis.Client
	source     dispatch.Source
	dedup      *dedup.Deduplicator
	proxy      *kernel.Proxy
	factory    *smartbits.Factory
	registry   *registry.Registry
	client     *channel.Client
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	health     *kernel.HealthChecker

	actions   chan action
	malformed atomic.Uint64
	dropped   atomic.Uint64
	startedAt time.Time
}

type action struct {
	appID string
	inv   *smartbits.Invocation
}

// New builds an engine from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *logrus.Entry, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		dedup:     dedup.New(dedupPolicy(cfg.Daemon.DedupPolicy)),
		actions:   make(chan action, actionBuffer),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}

	httpBackend := kernel.NewHTTPBackend(cfg.Kernel.URL, nil)
	if e.backend == nil {
		e.backend = httpBackend
	}
	if e.rdb == nil {
		e.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	e.proxy = kernel.NewProxy(e.backend, cfg.KernelTimeout())
	e.factory = smartbits.NewDefaultFactory(e)
	e.registry = registry.New(e.factory,
		registry.WithRelease(e.release),
		registry.WithRoomFilter(cfg.TracksRoom),
	)
	e.client = channel.NewClient(cfg.Server.SocketURL, cfg.Server.Token, cfg.ReconnectDelay(),
		channel.WithMalformedHandler(func(error) { e.malformed.Add(1) }))
	for _, route := range DefaultRoutes {
		_ = e.client.Subscribe(context.Background(), route)
	}

	dispatcher, err := dispatch.New(e.proxy)
	if err != nil {
		return nil, err
	}
	e.dispatcher = dispatcher
	e.scheduler = scheduler.New()
	e.health = kernel.NewHealthChecker(cfg.Kernel.URL, httpBackend, e.rdb, 3*cfg.HealthInterval())
	return e, nil
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down. The returned error is SHUTDOWN_TIMEOUT when background work could
// not be joined in time.
func (e *Engine) Run(ctx context.Context) error {
	if e.source == nil {
		src, err := dispatch.NewRedisSource(ctx, e.rdb, e.cfg.Redis.ResultsChannel)
		if err != nil {
			return err
		}
		e.source = src
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := e.client.Run(runCtx, e); err != nil {
			e.logger.WithError(err).Error("Subscription client stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := e.dispatcher.Run(runCtx, e.source); err != nil {
			e.logger.WithError(err).Error("Result dispatcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		e.runActions(runCtx)
	}()

	e.scheduleTasks()

	e.logger.WithFields(logrus.Fields{
		"server":  e.cfg.Server.SocketURL,
		"kernel":  e.cfg.Kernel.URL,
		"results": e.cfg.Redis.ResultsChannel,
	}).Info("Proxy running")

	<-ctx.Done()
	return e.shutdown(cancel, &wg)
}

func (e *Engine) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) error {
	timeout := e.cfg.ShutdownTimeout()
	e.logger.WithField("timeout", timeout.String()).Info("Shutting down")

	cancel()
	if conn := e.client.Conn(); conn != nil {
		_ = conn.Close()
	}
	_ = e.source.Close()

	deadline := time.Now().Add(timeout)
	var errs []error
	if err := e.scheduler.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}

	if !waitTimeout(wg, time.Until(deadline)) {
		errs = append(errs, errors.ShutdownTimeout("engine", timeout))
	}

	if n := e.proxy.CancelAll("shutdown"); n > 0 {
		e.logger.WithField("count", n).Info("Cancelled pending executions")
	}
	if err := e.rdb.Close(); err != nil {
		e.logger.WithError(err).Debug("Redis close")
	}

	if len(errs) > 0 {
		for _, err := range errs {
			e.logger.WithField("code", errors.GetCode(err)).Error(err.Error())
		}
		return errs[0]
	}
	return nil
}

func dedupPolicy(name string) dedup.Policy {
	if name == config.DedupMonotonic {
		return dedup.Monotonic
	}
	return dedup.Equality
}

// waitTimeout reports whether wg finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (e *Engine) scheduleTasks() {
	poll := e.cfg.PollInterval()

	e.scheduler.Schedule(poll, "pending-sweep", func(context.Context) error {
		if n := e.proxy.Sweep(time.Now()); n > 0 {
			e.logger.WithField("count", n).Warn("Timed out pending executions")
		}
		return nil
	})

	e.scheduler.Schedule(e.cfg.HealthInterval(), "kernel-health", func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, poll)
		defer cancel()
		_, err := e.health.Check(checkCtx)
		return err
	})

	e.scheduler.Schedule(poll, "channel-liveness", func(context.Context) error {
		return e.checkLiveness(time.Now())
	})
}

// checkLiveness warns when nothing has arrived on the channel for three
// poll intervals.
func (e *Engine) checkLiveness(now time.Time) error {
	status := e.client.Status()
	if !status.Connected {
		return nil
	}
	stale := 3 * e.cfg.PollInterval()
	if idle := now.Sub(status.LastSeen); idle > stale {
		e.logger.WithFields(logrus.Fields{
			"endpoint": status.Endpoint,
			"idle":     idle.Round(time.Second).String(),
		}).Warn("Subscription channel quiet")
	}
	return nil
}

func (e *Engine) runActions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-e.actions:
			e.invoke(ctx, a)
		}
	}
}

func (e *Engine) invoke(ctx context.Context, a action) {
	sb, ok := e.registry.Get(a.appID)
	if !ok {
		return
	}
	log := e.logger.WithFields(logrus.Fields{"app_id": a.appID, "action": a.inv.Action})
	if err := sb.HandleAction(ctx, a.inv.Action, a.inv.Params); err != nil {
		log.WithField("code", errors.GetCode(err)).Warnf("Action failed: %v", err)
		return
	}
	log.Debug("Action handled")
}

func (e *Engine) enqueue(appID string, inv *smartbits.Invocation) {
	select {
	case e.actions <- action{appID: appID, inv: inv}:
	default:
		e.dropped.Add(1)
		e.logger.WithFields(logrus.Fields{"app_id": appID, "action": inv.Action}).
			Warn("Action queue full, dropping action")
	}
}

// release runs after an app leaves the registry.
func (e *Engine) release(appID string) {
	if n := e.proxy.CancelApp(appID); n > 0 {
		e.logger.WithFields(logrus.Fields{"app_id": appID, "count": n}).
			Info("Cancelled executions of removed app")
	}
}

// Registry exposes the application registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Proxy exposes the execution proxy.
func (e *Engine) Proxy() *kernel.Proxy { return e.proxy }
