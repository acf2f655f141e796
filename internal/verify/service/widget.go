package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/provider"
	"github.com/gigharbour/phonefactor/pkg/slogx"
)

// WidgetManager owns the single live anti-automation widget. Creating a new
// widget always tears down the previous one first, so at most one instance
// exists process-wide at any instant. Teardown failures are logged and
// swallowed: a failed teardown must never block issuing a fresh challenge.
type WidgetManager struct {
	Driver provider.WidgetDriver

	mu      sync.Mutex
	current *domain.Widget
}

func NewWidgetManager(driver provider.WidgetDriver) *WidgetManager {
	return &WidgetManager{Driver: driver}
}

// Create tears down any existing widget, then instantiates a new one bound
// to containerID. A missing container is synthesized by the driver; when
// that fails the call returns ErrWidgetUnavailable.
func (m *WidgetManager) Create(ctx context.Context, containerID string) (*domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked(ctx)

	if err := m.Driver.EnsureContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("%w: container %q: %v", ErrWidgetUnavailable, containerID, err)
	}

	w := &domain.Widget{
		ContainerID: containerID,
		State:       domain.WidgetActive,
		CreatedAt:   time.Now(),
	}

	widgetID, err := m.Driver.Render(ctx, containerID, provider.WidgetEvents{
		Solved:  func() { m.solved(w) },
		Expired: func() { m.expired(w) },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWidgetUnavailable, err)
	}

	w.ID = widgetID
	m.current = w
	return w, nil
}

// Reset tears down the current widget if present. Safe to call when none
// exists.
func (m *WidgetManager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(ctx)
}

// Current returns the live widget, or nil when absent.
func (m *WidgetManager) Current() *domain.Widget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *WidgetManager) solved(w *domain.Widget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == w && w.State == domain.WidgetActive {
		w.State = domain.WidgetSolved
	}
}

// expired handles the provider callback: the widget transitions through
// expired straight back to absent and must not be reused.
func (m *WidgetManager) expired(w *domain.Widget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != w {
		return
	}
	w.State = domain.WidgetExpired
	m.current = nil
}

func (m *WidgetManager) teardownLocked(ctx context.Context) {
	if m.current == nil {
		return
	}

	if err := m.Driver.Remove(ctx, m.current.ID); err != nil {
		slogx.FromContext(ctx).Warn("widget teardown failed",
			"widget_id", m.current.ID,
			"error", err,
		)
	}

	m.current.State = domain.WidgetAbsent
	m.current = nil
}
