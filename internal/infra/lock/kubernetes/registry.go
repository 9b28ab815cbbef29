// Package kubernetes provides a lock registry backed by coordination.k8s.io
// Lease objects. A lock is held by writing this instance's identity as the
// lease holder and renewing the lease in the background while held; a lease
// whose renew time has gone stale past its duration is treated as abandoned
// and adopted.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/ahrav/syncd/internal/domain/leader"
)

const retryInterval = 250 * time.Millisecond

// Config holds the lease parameters for the registry.
type Config struct {
	// Namespace the Lease objects live in.
	Namespace string `yaml:"namespace"`

	// Identity recorded as the lease holder. Typically the pod name.
	Identity string `yaml:"identity"`

	// LeaseDuration after which a non-renewed lease counts as abandoned.
	// Defaults to 15s.
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

// Registry hands out Lease-backed locks keyed by lease name.
type Registry struct {
	client kubernetes.Interface
	cfg    Config
}

var _ leader.LockRegistry = (*Registry)(nil)

// NewRegistry creates a registry using the given client. The client comes
// from NewClient or a fake for tests.
func NewRegistry(client kubernetes.Interface, cfg Config) (*Registry, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Second
	}
	return &Registry{client: client, cfg: cfg}, nil
}

// Obtain returns the lease lock handle for key.
func (r *Registry) Obtain(key string) leader.Lock {
	return &leaseLock{client: r.client, cfg: r.cfg, name: key}
}

type leaseLock struct {
	client kubernetes.Interface
	cfg    Config
	name   string

	held      bool
	stopRenew chan struct{}
	renewDone chan struct{}
}

// TryLock attempts to create or adopt the lease, polling until acquired, the
// timeout elapses, or ctx is done. Timing out is not an error.
func (l *leaseLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := l.attempt(ctx)
		if err != nil {
			return false, err
		}
		if acquired {
			l.held = true
			l.startRenewal()
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := retryInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// attempt makes one pass at taking the lease. Write conflicts from concurrent
// candidates are reported as "not acquired", never as errors.
func (l *leaseLock) attempt(ctx context.Context) (bool, error) {
	leases := l.client.CoordinationV1().Leases(l.cfg.Namespace)
	now := metav1.NewMicroTime(time.Now())
	durationSeconds := int32(l.cfg.LeaseDuration / time.Second)

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: l.name, Namespace: l.cfg.Namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &l.cfg.Identity,
				LeaseDurationSeconds: &durationSeconds,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, err := leases.Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return false, nil
			}
			return false, fmt.Errorf("creating lease %q: %w", l.name, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting lease %q: %w", l.name, err)
	}

	if !l.claimable(lease) {
		return false, nil
	}

	lease.Spec.HolderIdentity = &l.cfg.Identity
	lease.Spec.LeaseDurationSeconds = &durationSeconds
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("updating lease %q: %w", l.name, err)
	}
	return true, nil
}

// claimable reports whether the lease is free, already ours, or abandoned.
func (l *leaseLock) claimable(lease *coordinationv1.Lease) bool {
	holder := lease.Spec.HolderIdentity
	if holder == nil || *holder == "" || *holder == l.cfg.Identity {
		return true
	}
	if lease.Spec.RenewTime == nil {
		return true
	}
	duration := l.cfg.LeaseDuration
	if lease.Spec.LeaseDurationSeconds != nil {
		duration = time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	}
	return time.Since(lease.Spec.RenewTime.Time) > duration
}

// startRenewal launches the goroutine that keeps the held lease current.
// Without renewal a lease goes stale after LeaseDuration and becomes
// claimable by a competitor even though the holder is still alive.
func (l *leaseLock) startRenewal() {
	l.stopRenew = make(chan struct{})
	l.renewDone = make(chan struct{})

	interval := l.cfg.LeaseDuration / 3
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// A failed renewal is retried on the next tick; the lease
				// stays valid until LeaseDuration lapses.
				_ = l.renew()
			}
		}
	}(l.stopRenew, l.renewDone)
}

// renew bumps the lease's renew time, provided we still hold it.
func (l *leaseLock) renew() error {
	ctx := context.Background()
	leases := l.client.CoordinationV1().Leases(l.cfg.Namespace)

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("getting lease %q for renewal: %w", l.name, err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.cfg.Identity {
		return fmt.Errorf("lease %q is no longer held by %q", l.name, l.cfg.Identity)
	}

	now := metav1.NewMicroTime(time.Now())
	lease.Spec.RenewTime = &now
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("renewing lease %q: %w", l.name, err)
	}
	return nil
}

func (l *leaseLock) stopRenewal() {
	if l.stopRenew == nil {
		return
	}
	close(l.stopRenew)
	<-l.renewDone
	l.stopRenew = nil
	l.renewDone = nil
}

// Unlock stops renewal and clears the holder so other candidates can claim
// the lease immediately instead of waiting out the duration.
func (l *leaseLock) Unlock() error {
	if !l.held {
		return fmt.Errorf("lease %q is not held", l.name)
	}
	l.held = false
	l.stopRenewal()

	ctx := context.Background()
	leases := l.client.CoordinationV1().Leases(l.cfg.Namespace)

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("getting lease %q for release: %w", l.name, err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.cfg.Identity {
		return fmt.Errorf("lease %q is no longer held by %q", l.name, l.cfg.Identity)
	}

	empty := ""
	lease.Spec.HolderIdentity = &empty
	lease.Spec.AcquireTime = nil
	lease.Spec.RenewTime = nil
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("releasing lease %q: %w", l.name, err)
	}
	return nil
}
