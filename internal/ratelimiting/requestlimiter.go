package ratelimiting

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiter runs operation once the limit allows it.
// Returns false without running the operation if ctx ends first, or if the
// operation could not complete within the deadline of ctx.
type RequestLimiter interface {
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool
}

// Allows at most limit operations to finish within any window
type windowLimitRequestLimiter struct {
	limit     int
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	availableSlots   chan struct{}
	finishedRequests []time.Time
	mutex            sync.Mutex
}

func NewWindowLimitRequestLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *windowLimitRequestLimiter {
	availableSlots := make(chan struct{}, limit)
	finishedRequests := make([]time.Time, limit)
	// Pretend all slots finished a full window ago so the first requests don't wait
	veryOldTime := nowFunc().Add(-window)
	for i := range limit {
		availableSlots <- struct{}{}
		finishedRequests[i] = veryOldTime
	}

	return &windowLimitRequestLimiter{
		limit:     limit,
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		availableSlots:   availableSlots,
		finishedRequests: finishedRequests,
	}
}

func (l *windowLimitRequestLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool {
	select {
	case <-l.availableSlots:
		defer func() {
			l.availableSlots <- struct{}{}
		}()
	case <-ctx.Done():
		return false
	}

	oldestRequest, ok := l.grabOldestFinishedRequest(ctx, maxOperationTime)
	if !ok {
		return false
	}
	// Reinsert the grabbed request unless the operation runs
	requestToInsert := oldestRequest
	defer func() {
		l.insertFinishedRequest(requestToInsert)
	}()

	if wait := l.computeWait(oldestRequest); wait > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.afterFunc(wait):
		}
	}

	operation(ctx)

	requestToInsert = l.nowFunc()
	return true
}

func (l *windowLimitRequestLimiter) computeWait(oldRequest time.Time) time.Duration {
	return l.window - l.nowFunc().Sub(oldRequest)
}

func (l *windowLimitRequestLimiter) insertFinishedRequest(finishedRequest time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i, _ := slices.BinarySearchFunc(l.finishedRequests, finishedRequest, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.finishedRequests = slices.Insert(l.finishedRequests, i, finishedRequest)
}

func (l *windowLimitRequestLimiter) grabOldestFinishedRequest(ctx context.Context, maxOperationTime time.Duration) (time.Time, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	oldestRequest := l.finishedRequests[0]

	if deadline, ok := ctx.Deadline(); ok {
		wait := max(l.computeWait(oldestRequest), 0)
		if wait+maxOperationTime > deadline.Sub(l.nowFunc()) {
			return time.Time{}, false
		}
	}

	l.finishedRequests = l.finishedRequests[1:]
	return oldestRequest, true
}

// Paces operations with a token bucket, waiting for a token when none is available
type paceRequestLimiter struct {
	limiter *rate.Limiter
}

func NewPaceRequestLimiter(perSecond RefillPerSecond, burst BurstSize) *paceRequestLimiter {
	return &paceRequestLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

func (l *paceRequestLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool {
	reservation := l.limiter.Reserve()
	if !reservation.OK() {
		return false
	}
	wait := reservation.Delay()

	if deadline, ok := ctx.Deadline(); ok && wait+maxOperationTime > time.Until(deadline) {
		reservation.Cancel()
		return false
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			reservation.Cancel()
			return false
		case <-timer.C:
		}
	}

	operation(ctx)
	return true
}

var _ RequestLimiter = (*windowLimitRequestLimiter)(nil)
var _ RequestLimiter = (*paceRequestLimiter)(nil)
