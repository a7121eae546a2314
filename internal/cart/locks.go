package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

const (
	defaultLockLease      = 10 * time.Second
	defaultAcquireTimeout = 3 * time.Second
	defaultRetryInterval  = 25 * time.Millisecond
	releaseTimeout        = 2 * time.Second
)

var (
	// ErrLockBusy is returned when an owner lock cannot be taken before the acquire timeout.
	ErrLockBusy = errors.New("lock busy")
	// ErrLeaseLost is the cancel cause of a lock context whose lease could not be renewed.
	ErrLeaseLost = errors.New("owner lease lost")
)

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	OwnerLockKey(ownerKey string) string
}

// OwnerLocksParams configure OwnerLocks. Leases may be nil for single-process use.
type OwnerLocksParams struct {
	Leases         leaseStore
	Lease          time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
	Metrics        *metrics.CartMetrics
	Logger         *logger.Logger
}

// OwnerLocks serialises work per owner key: a process-local semaphore keeps
// goroutines in line, and a Redis lease does the same across replicas. The
// lease is renewed every third of its ttl while held.
type OwnerLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry

	leases         leaseStore
	lease          time.Duration
	acquireTimeout time.Duration
	retry          time.Duration
	metrics        *metrics.CartMetrics
	logg           *logger.Logger
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewOwnerLocks(params OwnerLocksParams) *OwnerLocks {
	l := &OwnerLocks{
		entries:        map[string]*lockEntry{},
		leases:         params.Leases,
		lease:          params.Lease,
		acquireTimeout: params.AcquireTimeout,
		retry:          params.RetryInterval,
		metrics:        params.Metrics,
		logg:           params.Logger,
	}
	if l.lease <= 0 {
		l.lease = defaultLockLease
	}
	if l.acquireTimeout <= 0 {
		l.acquireTimeout = defaultAcquireTimeout
	}
	if l.retry <= 0 {
		l.retry = defaultRetryInterval
	}
	return l
}

func (l *OwnerLocks) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *OwnerLocks) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}

// Acquire blocks until the owner key is free, ctx is done, or the acquire
// timeout passes. Work done under the lock must use the returned context: it
// is cancelled with ErrLeaseLost once the lease cannot be renewed, and when
// the lock is released. The returned release is safe to call more than once.
func (l *OwnerLocks) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	entry := l.ref(key)
	if err := entry.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key)
		return nil, nil, l.waitError(ctx)
	}
	localRelease := func() {
		entry.sem.Release(1)
		l.unref(key)
	}

	token := uuid.NewString()
	if l.leases != nil {
		if err := l.acquireLease(waitCtx, key, token); err != nil {
			localRelease()
			if errors.Is(err, ErrLockBusy) {
				return nil, nil, l.waitError(ctx)
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire owner lease")
		}
	}
	if l.metrics != nil {
		l.metrics.ObserveLockWait(time.Since(start))
	}

	lockCtx, cancelLock := context.WithCancelCause(ctx)
	stopRenew := func() {}
	if l.leases != nil {
		stopRenew = l.renew(lockCtx, cancelLock, key, token)
	}

	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			stopRenew()
			if l.leases != nil {
				l.releaseLease(ctx, key, token)
			}
			cancelLock(context.Canceled)
			localRelease()
		})
	}, nil
}

// renew extends the lease until stopped. A lease found under another token, or
// one left unrenewed for a full ttl, cancels lockCtx with ErrLeaseLost.
func (l *OwnerLocks) renew(lockCtx context.Context, cancelLock context.CancelCauseFunc, key, token string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	leaseKey := l.leases.OwnerLockKey(key)
	interval := l.lease / 3

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		renewed := time.Now()
		for {
			select {
			case <-done:
				return
			case <-lockCtx.Done():
				return
			case <-ticker.C:
			}
			renewCtx, cancel := context.WithTimeout(context.WithoutCancel(lockCtx), interval)
			ok, err := l.leases.CompareAndExpire(renewCtx, leaseKey, token, l.lease)
			cancel()
			switch {
			case err == nil && ok:
				renewed = time.Now()
				continue
			case err == nil:
				l.leaseLost(lockCtx, key, nil)
				cancelLock(ErrLeaseLost)
				return
			case time.Since(renewed) >= l.lease:
				l.leaseLost(lockCtx, key, err)
				cancelLock(ErrLeaseLost)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func (l *OwnerLocks) leaseLost(ctx context.Context, key string, err error) {
	if l.logg == nil {
		return
	}
	if err == nil {
		err = ErrLeaseLost
	}
	l.logg.Error(l.logg.WithOwner(ctx, key), "owner lease lost while held", err)
}

func (l *OwnerLocks) acquireLease(ctx context.Context, key, token string) error {
	leaseKey := l.leases.OwnerLockKey(key)
	for {
		ok, err := l.leases.SetNX(ctx, leaseKey, token, l.lease)
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockBusy
			}
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrLockBusy
		case <-timer.C:
		}
	}
}

func (l *OwnerLocks) releaseLease(ctx context.Context, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := l.leases.CompareAndDelete(releaseCtx, l.leases.OwnerLockKey(key), token); err != nil && l.logg != nil {
		l.logg.Error(l.logg.WithOwner(ctx, key), "failed to release owner lease", err)
	}
}

// waitError keeps caller cancellation distinct from lock contention.
func (l *OwnerLocks) waitError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.IncLockTimeout()
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, ErrLockBusy, "owner lock busy")
}
