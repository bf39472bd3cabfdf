package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

type fetcher interface {
	Fetch(ctx context.Context) ([]model.DeviceConfig, error)
}

// Updater receives whole-object replacements of a device after each refresh.
type Updater interface {
	Update(ctx context.Context, device model.DeviceConfig)
}

type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Coordinator throttles and coalesces refreshes and distributes the results
// to the devices registered by name.
type Coordinator[U Updater] struct {
	ctx        context.Context
	fetcher    fetcher
	cacheTTL   time.Duration
	noResponse time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	wg         sync.WaitGroup

	mu          sync.Mutex
	refreshing  bool
	lastSuccess time.Time
	registry    map[string]U
	order       []string
}

// New returns a coordinator. ctx bounds the background refreshes started by
// RequestRefresh.
func New[U Updater](ctx context.Context, f fetcher, cacheTTL, noResponse time.Duration, opts ...Option) *Coordinator[U] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[U]{
		ctx:        ctx,
		fetcher:    f,
		cacheTTL:   cacheTTL,
		noResponse: noResponse,
		clock:      o.clock,
		logger:     zap.L(),
		registry:   make(map[string]U),
	}
}

// RequestRefresh starts a refresh in the background when one is due. The
// decision is taken before returning, so concurrent callers coalesce.
func (c *Coordinator[U]) RequestRefresh(tag string) {
	if !c.begin(tag) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.end()
		c.refresh(c.ctx, tag)
	}()
}

// Refresh is the blocking form of RequestRefresh. It reports whether new data
// was fetched and dispatched.
func (c *Coordinator[U]) Refresh(ctx context.Context, tag string) bool {
	if !c.begin(tag) {
		return false
	}
	defer c.end()
	return c.refresh(ctx, tag)
}

// Wait blocks until background refreshes have finished.
func (c *Coordinator[U]) Wait() {
	c.wg.Wait()
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator[U]) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// LastSuccess is the oldest observation time of the most recent fetch.
func (c *Coordinator[U]) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

func (c *Coordinator[U]) begin(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastSuccess.IsZero() && c.clock.Now().Sub(c.lastSuccess) <= c.cacheTTL {
		c.logger.Debug("using cached data", zap.String("tag", tag), zap.Duration("cache_ttl", c.cacheTTL))
		metrics.RefreshesTotal.WithLabelValues("cached").Inc()
		return false
	}
	if c.refreshing {
		c.logger.Debug("refresh in progress", zap.String("tag", tag))
		metrics.RefreshesTotal.WithLabelValues("in_progress").Inc()
		return false
	}
	c.refreshing = true
	c.logger.Debug("refreshing", zap.String("tag", tag))
	return true
}

func (c *Coordinator[U]) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
}

func (c *Coordinator[U]) refresh(ctx context.Context, tag string) bool {
	devices, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("refresh failed", zap.String("tag", tag), zap.Error(err))
		metrics.RefreshesTotal.WithLabelValues("failure").Inc()
		return false
	}
	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Debug("refresh successful", zap.String("tag", tag), zap.Int("devices", len(devices)))

	now := c.clock.Now()
	for _, device := range devices {
		updater, ok := c.Lookup(device.Name)
		if device.Name == "" || !ok {
			continue
		}
		if age := now.Sub(time.Unix(device.LastObservation, 0)); age > c.noResponse {
			c.logger.Info("device data obsolete", zap.String("device", device.Name), zap.Duration("age", age))
			device.Services = nil
			metrics.StaleDevicesTotal.Inc()
		}
		updater.Update(ctx, device)
	}
	return true
}

// GetAllDevices always fetches, regardless of cache age.
func (c *Coordinator[U]) GetAllDevices(ctx context.Context) ([]model.DeviceConfig, error) {
	return c.fetch(ctx)
}

func (c *Coordinator[U]) fetch(ctx context.Context) ([]model.DeviceConfig, error) {
	devices, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.advance(devices)
	return devices, nil
}

// advance moves lastSuccess forward to the oldest observation of the fetch,
// never past the current time.
func (c *Coordinator[U]) advance(devices []model.DeviceConfig) {
	oldest := c.clock.Now()
	for _, d := range devices {
		if t := time.Unix(d.LastObservation, 0); t.Before(oldest) {
			oldest = t
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if oldest.After(c.lastSuccess) {
		c.lastSuccess = oldest
	}
}

// Register adds a device by name. Nameless devices and duplicates are refused.
func (c *Coordinator[U]) Register(name string, u U) bool {
	if name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.registry[name]; exists {
		return false
	}
	c.registry[name] = u
	c.order = append(c.order, name)
	return true
}

func (c *Coordinator[U]) Lookup(name string) (U, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.registry[name]
	return u, ok
}

// Accessories returns the registered devices in registration order.
func (c *Coordinator[U]) Accessories() []U {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Map(c.order, func(name string, _ int) U {
		return c.registry[name]
	})
}

// Populate fetches the fleet and registers a device for every named entry.
// It returns the devices that were added.
func (c *Coordinator[U]) Populate(ctx context.Context, build func(model.DeviceConfig) U) ([]model.DeviceConfig, error) {
	devices, err := c.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	added := make([]model.DeviceConfig, 0, len(devices))
	for _, device := range devices {
		if device.Name == "" {
			c.logger.Warn("device had no name, not added", zap.String("device_id", device.DeviceID))
			continue
		}
		if _, exists := c.Lookup(device.Name); exists {
			c.logger.Info("device already instantiated", zap.String("device", device.Name))
			continue
		}
		if c.Register(device.Name, build(device)) {
			added = append(added, device)
			c.logger.Info("added device", zap.String("device", device.Name), zap.String("device_id", device.DeviceID))
		}
	}
	return added, nil
}
