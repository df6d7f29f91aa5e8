package atlasauth

import (
	"time"

	"github.com/MrEthical07/atlasauth/envelope"
	"github.com/MrEthical07/atlasauth/internal/audit"
	"github.com/MrEthical07/atlasauth/jwt"
	"github.com/MrEthical07/atlasauth/password"
	"github.com/MrEthical07/atlasauth/ratelimit"
	"github.com/go-playground/validator/v10"
)

// Engine runs credential sign-in, OAuth reconciliation and two-factor
// step-up over caller-supplied repositories.
//
// An Engine is immutable after Builder.Build and safe for concurrent use.
// The only goroutine it owns is the optional audit dispatcher; call Close to
// flush and stop it.
type Engine struct {
	config Config

	users      UserRepository
	identities LinkedIdentityRepository
	twoFactor  TwoFactorRepository
	tokens     TokenGenerator
	challenges ChallengeStore

	signInLimiter     *ratelimit.Limiter
	managementLimiter *ratelimit.Limiter

	passwords  *password.Multi
	cipher     *envelope.Cipher
	jwtManager *jwt.Manager
	validate   *validator.Validate

	audit   *audit.Dispatcher
	metrics *Metrics
	clock   func() time.Time
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events dropped because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// HashPassword hashes plain with the configured algorithm, for registration
// and password changes handled outside the engine.
func (e *Engine) HashPassword(plain string) (string, error) {
	if e == nil || e.passwords == nil {
		return "", ErrEngineNotReady
	}
	return e.passwords.Hash(plain)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
