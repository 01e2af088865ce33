package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"invento/internal/models"
	"invento/internal/repositories"
)

// LockoutPolicy holds the brute-force thresholds.
type LockoutPolicy struct {
	DeviceThreshold int
	// DeviceDurations is indexed by lock_count; the last entry repeats.
	DeviceDurations []time.Duration
	IPThreshold     int
	IPDuration      time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		DeviceThreshold: 5,
		DeviceDurations: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 60 * time.Minute},
		IPThreshold:     20,
		IPDuration:      30 * time.Minute,
	}
}

// DeviceLockDuration maps the current lock_count to a lock length.
func (p LockoutPolicy) DeviceLockDuration(lockCount int) time.Duration {
	if len(p.DeviceDurations) == 0 {
		return time.Hour
	}
	if lockCount < 0 {
		lockCount = 0
	}
	if lockCount >= len(p.DeviceDurations) {
		return p.DeviceDurations[len(p.DeviceDurations)-1]
	}
	return p.DeviceDurations[lockCount]
}

// LockEvent describes a freshly applied lock.
type LockEvent struct {
	Scope       LockScope
	Fingerprint string
	IP          string
	Until       time.Time
	LockCount   int
}

// LockAlerter is told about every new lock, after the failure is committed.
type LockAlerter interface {
	LockApplied(ctx context.Context, ev LockEvent)
}

// LockApplied reports which locks a failure triggered.
type LockApplied struct {
	DeviceUntil *time.Time
	IPUntil     *time.Time
}

func (l LockApplied) Any() bool { return l.DeviceUntil != nil || l.IPUntil != nil }

type AttemptTracker struct {
	store  repositories.Store
	policy LockoutPolicy
	alerts LockAlerter
	now    func() time.Time
}

func NewAttemptTracker(store repositories.Store, policy LockoutPolicy, alerts LockAlerter) *AttemptTracker {
	return &AttemptTracker{store: store, policy: policy, alerts: alerts, now: time.Now}
}

// Attempt is a login step that has already been charged against the
// device and IP counters.
type Attempt struct {
	Fingerprint string
	IP          string
	applied     LockApplied
	lockCount   int
}

// Begin records the attempt and, in the same transaction that holds both
// rows FOR UPDATE, refuses it with a *LockedError or charges it as a
// failure. Parallel guesses therefore cannot all pass the lock check before
// any of them is counted. A correct credential undoes the charge through
// OnSuccess.
func (t *AttemptTracker) Begin(ctx context.Context, fingerprint, ip, email string, userID *int64) (*Attempt, error) {
	a := &Attempt{Fingerprint: fingerprint, IP: ip}
	var locked *LockedError
	err := t.store.WithTx(ctx, func(tx repositories.Store) error {
		now := t.now()
		dev, err := tx.Attempts().GetOrCreateDevice(ctx, fingerprint, ip, userID)
		if err != nil {
			return err
		}
		dev.AddEmail(email)
		if userID != nil && dev.UserID == nil {
			dev.UserID = userID
		}
		dev.IPAddress = ip

		ipRow, err := tx.Attempts().GetOrCreateIP(ctx, ip)
		if err != nil {
			return err
		}

		switch {
		case dev.LockedAt(now):
			locked = &LockedError{Scope: LockDevice, Until: *dev.LockUntil, Now: now}
		case ipRow.LockedAt(now):
			locked = &LockedError{Scope: LockIP, Until: *ipRow.LockUntil, Now: now}
		default:
			a.applied, a.lockCount = t.charge(now, dev, ipRow)
		}
		if err := tx.Attempts().SaveDevice(ctx, dev); err != nil {
			return err
		}
		if locked != nil {
			return nil
		}
		return tx.Attempts().SaveIP(ctx, ipRow)
	})
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if locked != nil {
		return nil, locked
	}
	return a, nil
}

// charge counts one failure on both rows and applies the device
// (progressive) and IP (flat) locks when thresholds are reached.
func (t *AttemptTracker) charge(now time.Time, dev *models.LoginAttempt, ipRow *models.IpAttempt) (LockApplied, int) {
	var applied LockApplied
	dev.FailedAttempts++
	if dev.FailedAttempts >= t.policy.DeviceThreshold {
		until := now.Add(t.policy.DeviceLockDuration(dev.LockCount))
		dev.LockUntil = &until
		dev.FailedAttempts = 0
		dev.LockCount++
		applied.DeviceUntil = &until
	}
	ipRow.FailedAttempts++
	if ipRow.FailedAttempts >= t.policy.IPThreshold {
		until := now.Add(t.policy.IPDuration)
		ipRow.LockUntil = &until
		ipRow.FailedAttempts = 0
		applied.IPUntil = &until
	}
	return applied, dev.LockCount
}

// Fail settles a charged attempt whose credential was wrong and reports
// the locks it triggered.
func (t *AttemptTracker) Fail(ctx context.Context, a *Attempt) LockApplied {
	if !a.applied.Any() {
		return a.applied
	}
	if until := a.applied.DeviceUntil; until != nil {
		log.Warn().Str("component", "auth").Str("op", "lockout").
			Str("fingerprint", a.Fingerprint).Str("ip", a.IP).Int("lock_count", a.lockCount).
			Time("until", *until).Msg("device locked")
		t.alert(ctx, LockEvent{Scope: LockDevice, Fingerprint: a.Fingerprint, IP: a.IP, Until: *until, LockCount: a.lockCount})
	}
	if until := a.applied.IPUntil; until != nil {
		log.Warn().Str("component", "auth").Str("op", "lockout").
			Str("ip", a.IP).Time("until", *until).Msg("ip locked")
		t.alert(ctx, LockEvent{Scope: LockIP, IP: a.IP, Until: *until})
	}
	return a.applied
}

// OnSuccess clears failures and locks on both rows. lock_count only resets
// here.
func (t *AttemptTracker) OnSuccess(ctx context.Context, fingerprint, ip string) error {
	err := t.store.WithTx(ctx, func(tx repositories.Store) error {
		dev, err := tx.Attempts().GetOrCreateDevice(ctx, fingerprint, ip, nil)
		if err != nil {
			return err
		}
		dev.FailedAttempts = 0
		dev.LockUntil = nil
		dev.LockCount = 0
		if err := tx.Attempts().SaveDevice(ctx, dev); err != nil {
			return err
		}

		ipRow, err := tx.Attempts().GetOrCreateIP(ctx, ip)
		if err != nil {
			return err
		}
		ipRow.FailedAttempts = 0
		ipRow.LockUntil = nil
		return tx.Attempts().SaveIP(ctx, ipRow)
	})
	if err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

func (t *AttemptTracker) alert(ctx context.Context, ev LockEvent) {
	if t.alerts == nil {
		return
	}
	t.alerts.LockApplied(context.WithoutCancel(ctx), ev)
}
