// Package alerts is the topic+severity rate-limited notification
// dispatcher every other component calls on failure thresholds. It has
// no teacher analogue (the teacher has no alerting package) — the
// per-(topic, severity) token-bucket shape follows the same golang.org/x/time/rate
// pattern used for HTTP client rate limiting elsewhere in this repo.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Severity tiers.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Window is the rate-limit period: at most one delivered alert per
// (topic, severity) per Window.
const Window = 15 * time.Minute

// Channel delivers a formatted alert to wherever operators watch for them
// (a chat channel, in the teacher's vocabulary). Send is a thin
// dispatcher in front of whatever Channel is configured.
type Channel interface {
	Deliver(topic string, severity Severity, message string) error
}

// Sink is the rate-limited alert dispatcher.
type Sink struct {
	enabled bool
	channel Channel
	log     zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Sink. When enabled is false, Send is a no-op — the
// documented disabled-mode short circuit for local dev.
func New(enabled bool, channel Channel, log zerolog.Logger) *Sink {
	return &Sink{
		enabled:  enabled,
		channel:  channel,
		log:      log.With().Str("component", "alerts").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

func key(topic string, severity Severity) string {
	return topic + "|" + string(severity)
}

// limiterFor returns the token bucket for (topic, severity), creating one
// that allows exactly 1 token per Window with a burst of 1 if it doesn't
// exist yet.
func (s *Sink) limiterFor(k string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[k]
	if !ok {
		lim = rate.NewLimiter(rate.Every(Window), 1)
		s.limiters[k] = lim
	}
	return lim
}

// Send delivers an alert, subject to the (topic, severity) rate limit.
// Excess alerts within the window are dropped: logged but not delivered.
func (s *Sink) Send(topic string, severity Severity, message string) {
	if !s.enabled {
		return
	}

	k := key(topic, severity)
	if !s.limiterFor(k).Allow() {
		s.log.Info().Str("topic", topic).Str("severity", string(severity)).Msg("alert suppressed by rate limit")
		return
	}

	if s.channel == nil {
		s.log.Warn().Str("topic", topic).Str("severity", string(severity)).Str("message", message).Msg("alert channel not configured, dropping")
		return
	}

	if err := s.channel.Deliver(topic, severity, message); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("failed to deliver alert")
	}
}

// UnconfiguredChannel always fails delivery. Wiring it in lets Send still
// exercise rate limiting and logging when alerting is enabled but no real
// delivery channel (chat webhook, email) has been configured yet.
type UnconfiguredChannel struct{}

func (UnconfiguredChannel) Deliver(topic string, severity Severity, message string) error {
	return fmt.Errorf("no alert channel configured: dropped %s/%s: %s", topic, severity, message)
}
