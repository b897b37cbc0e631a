// Package service provides the subscription-side surface of the
// monitored-item engine: the item table driven by the Create/Modify/
// SetMonitoringMode/Delete services and the publish loop that drains
// notifications to a publisher.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
	"github.com/nexus-edge/opcua-server/internal/metrics"
	"github.com/nexus-edge/opcua-server/internal/monitor"
)

// Publisher delivers drained notification batches.
type Publisher interface {
	PublishNotifications(ctx context.Context, subscriptionID uint32, notifs []*ua.MonitoredItemNotification) error
}

// SubscriptionConfig holds configuration for a subscription.
type SubscriptionConfig struct {
	// ID identifies the subscription toward the publisher.
	ID uint32

	// PublishingInterval is how often pending notifications are drained.
	PublishingInterval time.Duration

	// Limits bound requested monitoring parameters.
	Limits monitor.Limits
}

// DefaultSubscriptionConfig returns sensible defaults.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		PublishingInterval: 1 * time.Second,
		Limits:             monitor.DefaultLimits(),
	}
}

// SubscriptionStats tracks subscription statistics.
type SubscriptionStats struct {
	ItemsCreated           atomic.Uint64
	ItemsDeleted           atomic.Uint64
	PublishCycles          atomic.Uint64
	NotificationsPublished atomic.Uint64
	PublishErrors          atomic.Uint64
}

// Subscription owns a table of monitored items and periodically drains
// reporting items to the publisher.
type Subscription struct {
	config    SubscriptionConfig
	space     *addrspace.AddressSpace
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Registry

	mu         sync.RWMutex
	items      map[uint32]*monitor.Item
	nextItemID uint32

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   *SubscriptionStats
}

// NewSubscription creates a subscription over the given address space.
func NewSubscription(
	config SubscriptionConfig,
	space *addrspace.AddressSpace,
	publisher Publisher,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *Subscription {
	if config.PublishingInterval <= 0 {
		config.PublishingInterval = 1 * time.Second
	}
	if config.Limits == (monitor.Limits{}) {
		config.Limits = monitor.DefaultLimits()
	}

	return &Subscription{
		config:    config,
		space:     space,
		publisher: publisher,
		logger: logger.With().
			Str("component", "subscription").
			Uint32("subscription_id", config.ID).
			Logger(),
		metrics: metricsReg,
		items:   make(map[uint32]*monitor.Item),
		stats:   &SubscriptionStats{},
	}
}

// Start begins the publish loop.
func (s *Subscription) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started.Store(true)

	s.wg.Add(1)
	go s.publishLoop()

	s.logger.Info().
		Dur("publishing_interval", s.config.PublishingInterval).
		Msg("Subscription started")

	return nil
}

// Stop terminates every item and halts the publish loop. Item teardown
// happens even when the loop was never started.
func (s *Subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	for id, it := range s.items {
		it.Terminate()
		delete(s.items, id)
	}
	s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Subscription stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("Timeout waiting for publish loop to stop")
	}

	s.started.Store(false)
	return nil
}

// Running reports whether the publish loop is active.
func (s *Subscription) Running() bool {
	return s.started.Load()
}

// CreateMonitoredItems services a CreateMonitoredItems request. Items
// are constructed without a mode and then activated with the requested
// mode, so enable-time effects run through the one SetMonitoringMode
// path.
func (s *Subscription) CreateMonitoredItems(ts ua.TimestampsToReturn, reqs []*ua.MonitoredItemCreateRequest) []*ua.MonitoredItemCreateResult {
	results := make([]*ua.MonitoredItemCreateResult, 0, len(reqs))

	for _, req := range reqs {
		results = append(results, s.createOne(ts, req))
	}
	return results
}

func (s *Subscription) createOne(ts ua.TimestampsToReturn, req *ua.MonitoredItemCreateRequest) *ua.MonitoredItemCreateResult {
	if req == nil || req.ItemToMonitor == nil || req.ItemToMonitor.NodeID == nil || req.RequestedParameters == nil {
		return &ua.MonitoredItemCreateResult{StatusCode: ua.StatusBadInvalidArgument}
	}

	node, ok := s.space.Get(req.ItemToMonitor.NodeID)
	if !ok {
		return &ua.MonitoredItemCreateResult{StatusCode: ua.StatusBadNodeIDUnknown}
	}

	filter, err := monitor.UnwrapDataChangeFilter(req.RequestedParameters.Filter)
	if err != nil {
		return &ua.MonitoredItemCreateResult{StatusCode: statusOf(err)}
	}

	s.mu.Lock()
	s.nextItemID++
	id := s.nextItemID
	s.mu.Unlock()

	item, err := monitor.New(node, monitor.Params{
		ID:                 id,
		ClientHandle:       req.RequestedParameters.ClientHandle,
		ItemToMonitor:      req.ItemToMonitor,
		SamplingInterval:   req.RequestedParameters.SamplingInterval,
		QueueSize:          req.RequestedParameters.QueueSize,
		DiscardOldest:      req.RequestedParameters.DiscardOldest,
		Filter:             filter,
		TimestampsToReturn: ts,
	}, s.config.Limits, s.logger)
	if err != nil {
		return &ua.MonitoredItemCreateResult{StatusCode: statusOf(err)}
	}

	if err := item.SetMonitoringMode(req.MonitoringMode); err != nil {
		item.Terminate()
		return &ua.MonitoredItemCreateResult{StatusCode: statusOf(err)}
	}

	s.mu.Lock()
	s.items[id] = item
	s.mu.Unlock()

	s.stats.ItemsCreated.Add(1)
	if s.metrics != nil {
		s.metrics.IncItemsCreated()
	}

	s.logger.Info().
		Uint32("monitored_item_id", id).
		Str("node_id", req.ItemToMonitor.NodeID.String()).
		Float64("sampling_interval", item.SamplingInterval()).
		Uint32("queue_size", item.QueueSize()).
		Msg("Created monitored item")

	return &ua.MonitoredItemCreateResult{
		StatusCode:              ua.StatusOK,
		MonitoredItemID:         id,
		RevisedSamplingInterval: item.SamplingInterval(),
		RevisedQueueSize:        item.QueueSize(),
	}
}

// ModifyMonitoredItems services a ModifyMonitoredItems request.
func (s *Subscription) ModifyMonitoredItems(ts ua.TimestampsToReturn, reqs []*ua.MonitoredItemModifyRequest) []*ua.MonitoredItemModifyResult {
	results := make([]*ua.MonitoredItemModifyResult, 0, len(reqs))

	for _, req := range reqs {
		if req == nil || req.RequestedParameters == nil {
			results = append(results, &ua.MonitoredItemModifyResult{StatusCode: ua.StatusBadInvalidArgument})
			continue
		}

		item, ok := s.Item(req.MonitoredItemID)
		if !ok {
			results = append(results, &ua.MonitoredItemModifyResult{StatusCode: ua.StatusBadMonitoredItemIDInvalid})
			continue
		}

		result, err := item.Modify(ts, req.RequestedParameters)
		if err != nil {
			results = append(results, &ua.MonitoredItemModifyResult{StatusCode: statusOf(err)})
			continue
		}
		results = append(results, result)
	}
	return results
}

// SetMonitoringMode applies a mode to a set of items, returning one
// status per item.
func (s *Subscription) SetMonitoringMode(mode ua.MonitoringMode, ids ...uint32) []ua.StatusCode {
	results := make([]ua.StatusCode, 0, len(ids))

	for _, id := range ids {
		item, ok := s.Item(id)
		if !ok {
			results = append(results, ua.StatusBadMonitoredItemIDInvalid)
			continue
		}
		if err := item.SetMonitoringMode(mode); err != nil {
			results = append(results, statusOf(err))
			continue
		}
		results = append(results, ua.StatusOK)
	}
	return results
}

// DeleteMonitoredItems terminates and removes items, returning one
// status per item.
func (s *Subscription) DeleteMonitoredItems(ids ...uint32) []ua.StatusCode {
	results := make([]ua.StatusCode, 0, len(ids))

	for _, id := range ids {
		s.mu.Lock()
		item, ok := s.items[id]
		if ok {
			delete(s.items, id)
		}
		s.mu.Unlock()

		if !ok {
			results = append(results, ua.StatusBadMonitoredItemIDInvalid)
			continue
		}

		item.Terminate()
		s.stats.ItemsDeleted.Add(1)
		if s.metrics != nil {
			s.metrics.IncItemsTerminated()
		}
		results = append(results, ua.StatusOK)
	}
	return results
}

// Item looks up a monitored item by id.
func (s *Subscription) Item(id uint32) (*monitor.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Len returns the number of monitored items.
func (s *Subscription) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Publish drains all reporting items once and hands the batch to the
// publisher. The publish loop calls it on every tick; it is exported so
// hosts without a loop can drain on demand.
func (s *Subscription) Publish(ctx context.Context) (int, error) {
	start := time.Now()

	s.mu.RLock()
	items := make([]*monitor.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.RUnlock()

	var batch []*ua.MonitoredItemNotification
	for _, it := range items {
		batch = append(batch, it.ExtractNotifications()...)
	}

	s.stats.PublishCycles.Add(1)
	if s.metrics != nil {
		s.metrics.SetLiveItems(float64(monitor.LiveItems()))
	}

	if len(batch) == 0 {
		return 0, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishNotifications(ctx, s.config.ID, batch); err != nil {
			s.stats.PublishErrors.Add(1)
			if s.metrics != nil {
				s.metrics.IncPublishErrors()
			}
			return 0, err
		}
	}

	s.stats.NotificationsPublished.Add(uint64(len(batch)))
	if s.metrics != nil {
		s.metrics.AddNotificationsPublished(int64(len(batch)))
		s.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}

	return len(batch), nil
}

func (s *Subscription) publishLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PublishingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Publish(s.ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to publish notifications")
				continue
			}
			if n > 0 {
				s.logger.Debug().Int("notifications", n).Msg("Publish cycle completed")
			}
		}
	}
}

// Stats returns a snapshot of the subscription statistics.
func (s *Subscription) Stats() map[string]uint64 {
	return map[string]uint64{
		"items_created":           s.stats.ItemsCreated.Load(),
		"items_deleted":           s.stats.ItemsDeleted.Load(),
		"publish_cycles":          s.stats.PublishCycles.Load(),
		"notifications_published": s.stats.NotificationsPublished.Load(),
		"publish_errors":          s.stats.PublishErrors.Load(),
	}
}

// statusOf maps engine errors onto wire status codes.
func statusOf(err error) ua.StatusCode {
	if sc, ok := err.(ua.StatusCode); ok {
		return sc
	}
	return ua.StatusBadInternalError
}
