package led

import (
	"slices"
	"sync"

	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/logging"
)

// Manager drives the status LED from camera health changes: solid while
// healthy, slow blink on warnings, fast blink on errors, off after Stop.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	unsubscribe func()
	logger      logging.Logger
	led         string

	mu      sync.Mutex
	level   string
	stopped bool
}

// NewManager creates a new LED manager for the board's status LED.
func NewManager(controller Controller, eventBus *events.Bus, logger logging.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
		led:        StatusLED(controller),
	}
}

// StatusLED picks the LED used for health: "system" when the board has one,
// otherwise the first available LED in name order.
func StatusLED(c Controller) string {
	available := c.Available()
	if slices.Contains(available, "system") {
		return "system"
	}
	if len(available) == 0 {
		return "system"
	}
	slices.Sort(available)
	return available[0]
}

// Start begins listening for health change events. The LED shows a
// heartbeat until the first health report arrives.
func (m *Manager) Start() {
	m.apply("", PatternHeartbeat)
	m.unsubscribe = m.eventBus.Subscribe(func(e events.HealthChangedEvent) {
		m.handleEvent(e)
	})
	m.logger.Info("LED manager started", "led", m.led)
}

// Stop unsubscribes and switches the LED off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if err := m.controller.Set(m.led, false, ""); err != nil {
		m.logger.Debug("Failed to switch status LED off", "error", err)
	}
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handleEvent(event events.HealthChangedEvent) {
	pattern := PatternForLevel(event.Level)
	m.logger.Debug("Health changed", "level", event.Level, "previous", event.Previous,
		"healthy", event.IsHealthy(), "pattern", pattern)
	m.apply(event.Level, pattern)
}

func (m *Manager) apply(level, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.level = level
	if err := m.controller.Set(m.led, true, pattern); err != nil {
		m.logger.Warn("Failed to set status LED", "led", m.led, "pattern", pattern, "error", err)
	}
}

// Level returns the health level the LED currently reflects, or "" before
// the first report.
func (m *Manager) Level() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// GetController returns the underlying LED controller for direct API access
func (m *Manager) GetController() Controller {
	return m.controller
}
