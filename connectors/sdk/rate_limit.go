// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiting calls to a service.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond calls per second with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or the context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// TryAcquire takes a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.Allow()
}

// SetRate updates the rate limit dynamically
func (r *RateLimiter) SetRate(perSecond float64, burst int) {
	r.limiter.SetLimit(rate.Limit(perSecond))
	r.limiter.SetBurst(burst)
}

// MultiTenantRateLimiter keeps one bucket per tenant.
type MultiTenantRateLimiter struct {
	defaultRate  float64
	defaultBurst int
	limiters     map[string]*RateLimiter
	mu           sync.Mutex
}

// NewMultiTenantRateLimiter creates a limiter that lazily allocates tenant buckets.
func NewMultiTenantRateLimiter(defaultRate float64, defaultBurst int) *MultiTenantRateLimiter {
	return &MultiTenantRateLimiter{
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		limiters:     make(map[string]*RateLimiter),
	}
}

// Wait blocks until the tenant's bucket has a token.
func (m *MultiTenantRateLimiter) Wait(ctx context.Context, tenantID string) error {
	return m.get(tenantID).Wait(ctx)
}

// TryAcquire takes a token from the tenant's bucket without blocking.
func (m *MultiTenantRateLimiter) TryAcquire(tenantID string) bool {
	return m.get(tenantID).TryAcquire()
}

// SetTenantLimit overrides the limit for a tenant.
func (m *MultiTenantRateLimiter) SetTenantLimit(tenantID string, perSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[tenantID] = NewRateLimiter(perSecond, burst)
}

func (m *MultiTenantRateLimiter) get(tenantID string) *RateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[tenantID]
	if !ok {
		l = NewRateLimiter(m.defaultRate, m.defaultBurst)
		m.limiters[tenantID] = l
	}
	return l
}

// RateLimitError is returned when a caller exceeds its call budget.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}
