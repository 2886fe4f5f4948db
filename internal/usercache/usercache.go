// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package usercache caches successful user info lookups for a fixed time and collapses concurrent
// lookups of the same user into a single backend request.
package usercache

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/cache"
	"k8s.io/utils/clock"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/metrics"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

type Cache struct {
	backend userinfo.Backend
	ttl     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics

	entries *cache.Expiring
	flights singleflight.Group
}

var _ userinfo.Backend = &Cache{}

type Option func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cache *Cache) { cache.metrics = m }
}

// New wraps backend. Entries expire ttl after they were stored. A ttl of zero disables caching,
// concurrent lookups are still collapsed.
func New(backend userinfo.Backend, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = cache.NewExpiringWithClock(c.clock)
	return c
}

// GetUserInfo returns the cached user or resolves it. The resolution is not cancelled when ctx is,
// since other callers may be waiting for it, but this call returns as soon as ctx is done.
func (c *Cache) GetUserInfo(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
	if info, ok := c.get(req); ok {
		c.metrics.RecordCacheResult(metrics.CacheHit)
		return info, nil
	}

	var started bool
	results := c.flights.DoChan(req.String(), func() (_ any, err error) {
		// only the caller that starts a flight runs this
		started = true

		// singleflight re-panics on a goroutine nobody can recover on
		defer func() {
			if r := recover(); r != nil {
				plog.Error("backend panicked", fmt.Errorf("%v", r), "request", req.String(), "stack", string(debug.Stack()))
				err = fetcherr.Newf(fetcherr.Internal, "backend panicked: %v", r)
			}
		}()

		// a flight that finished between the lookup above and joining this one has already stored its result
		if info, ok := c.get(req); ok {
			return info, nil
		}

		info, err := c.backend.GetUserInfo(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.entries.Set(req, info, c.ttl)
		}
		return info, nil
	})

	select {
	case <-ctx.Done():
		plog.Debug("stopped waiting for user info lookup", "request", req.String(), "reason", ctx.Err().Error())
		return nil, fetcherr.Wrap(fetcherr.Internal, "user info request was cancelled", context.Cause(ctx))
	case result := <-results:
		// started is written before the flight publishes its result
		if started {
			c.metrics.RecordCacheResult(metrics.CacheMiss)
		} else {
			c.metrics.RecordCacheResult(metrics.CacheShared)
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*userinfo.UserInfo), nil
	}
}

func (c *Cache) get(req userinfo.Request) (*userinfo.UserInfo, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	value, ok := c.entries.Get(req)
	if !ok {
		return nil, false
	}
	return value.(*userinfo.UserInfo), true
}

// Len is the number of entries that have not been garbage collected yet, for tests.
func (c *Cache) Len() int {
	return c.entries.Len()
}
