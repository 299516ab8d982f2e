package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultCheckInterval = 30 * time.Second

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	// IsHealthy returns true if the backend answered the probe.
	IsHealthy(ctx context.Context) bool
}

// HTTPHealthChecker probes the backend health endpoint.
type HTTPHealthChecker struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPHealthChecker creates a checker probing baseURL/health.
func NewHTTPHealthChecker(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHealthChecker{
		url:        baseURL + "/healthz",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// IsHealthy returns true if the health endpoint answered 2xx.
func (h *HTTPHealthChecker) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return false
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Debug("health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// MockHealthChecker for testing.
type MockHealthChecker struct {
	healthy atomic.Bool
}

// NewMockHealthChecker creates a new mock health checker.
func NewMockHealthChecker() *MockHealthChecker {
	return &MockHealthChecker{}
}

// IsHealthy returns the mock health status.
func (m *MockHealthChecker) IsHealthy(ctx context.Context) bool {
	return m.healthy.Load()
}

// SetHealthy sets the mock health status.
func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.healthy.Store(healthy)
}

// HealthMonitor polls backend connectivity and notifies callbacks on
// changes. The records repository registers a callback that replays the
// sync journal when the backend comes back.
type HealthMonitor struct {
	checker       HealthChecker
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	checkInterval time.Duration
	mu            sync.RWMutex // Protects callbacks slice
	callbacks     []func(bool)
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(ctx context.Context, checker HealthChecker, checkInterval time.Duration, logger *zap.Logger) *HealthMonitor {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	hm := &HealthMonitor{
		checker:       checker,
		checkInterval: checkInterval,
		callbacks:     make([]func(bool), 0),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}

	// Initialize with current health status
	hm.healthy.Store(checker.IsHealthy(ctx))
	hm.lastCheck.Store(time.Now())

	return hm
}

// Start begins periodic health checks.
func (hm *HealthMonitor) Start() {
	go hm.runPeriodicCheck()
}

// runPeriodicCheck performs periodic health checks.
func (hm *HealthMonitor) runPeriodicCheck() {
	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			healthy := hm.checker.IsHealthy(hm.ctx)
			hm.updateHealth(healthy)
		}
	}
}

// updateHealth updates health status and notifies callbacks if changed.
func (hm *HealthMonitor) updateHealth(healthy bool) {
	oldHealth := hm.healthy.Load()
	hm.healthy.Store(healthy)
	hm.lastCheck.Store(time.Now())

	// Only notify if health status changed
	if oldHealth != healthy {
		hm.logger.Info("backend health changed",
			zap.Bool("healthy", healthy),
			zap.Bool("previous", oldHealth))
		hm.notifyCallbacks(healthy)
	}
}

// IsHealthy returns the current health status.
func (hm *HealthMonitor) IsHealthy() bool {
	return hm.healthy.Load()
}

// LastCheck returns the time of the last health check.
func (hm *HealthMonitor) LastCheck() time.Time {
	v := hm.lastCheck.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// RegisterCallback adds a callback invoked on health changes.
// Returns an error if the callback is nil.
func (hm *HealthMonitor) RegisterCallback(cb func(bool)) error {
	if cb == nil {
		return fmt.Errorf("health: callback cannot be nil")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.callbacks = append(hm.callbacks, cb)
	return nil
}

// notifyCallbacks fires all callbacks without holding the lock.
func (hm *HealthMonitor) notifyCallbacks(healthy bool) {
	hm.mu.RLock()
	callbacks := make([]func(bool), len(hm.callbacks))
	copy(callbacks, hm.callbacks)
	hm.mu.RUnlock()

	for _, cb := range callbacks {
		// Call in separate goroutine to prevent blocking
		go func(callback func(bool)) {
			defer func() {
				if r := recover(); r != nil {
					hm.logger.Error("health callback panic",
						zap.Any("panic", r))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			done := make(chan struct{})
			go func() {
				callback(healthy)
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				hm.logger.Warn("health callback timeout",
					zap.Duration("timeout", 5*time.Second))
			}
		}(cb)
	}
}

// Stop gracefully shuts down the health monitor.
func (hm *HealthMonitor) Stop() {
	hm.cancel()
}
