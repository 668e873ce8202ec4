// Package limiter holds the remote-service circuit breaker. Cooldown state
// lives in Redis so every worker instance observes the same breaker.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 { opts.MaxInflight = 4 }
	if opts.BaseBackoff <= 0 { opts.BaseBackoff = 30 * time.Second }
	if opts.MaxBackoff <= 0 { opts.MaxBackoff = 5 * time.Minute }
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil { return nil, err }
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil { return nil, err }
	return &Adaptive{rdb: c, maxInflight: opts.MaxInflight, baseBackoff: opts.BaseBackoff, maxBackoff: opts.MaxBackoff, sem: map[string]chan struct{}{}}, nil
}

func (a *Adaptive) key(service string) string {
	return fmt.Sprintf("cb:%s", strings.ToLower(service))
}

// IsOpen returns true while the cooldown for service is active.
func (a *Adaptive) IsOpen(ctx context.Context, service string) bool {
	k := a.key(service)
	ts, err := a.rdb.Get(ctx, k).Int64()
	if err != nil { return false }
	return time.Now().Unix() < ts
}

// Open sets or extends the cooldown. Consecutive opens double the backoff up
// to maxBackoff.
func (a *Adaptive) Open(ctx context.Context, service string) {
	k := a.key(service)
	cntKey := k + ":attempts"
	attempts, _ := a.rdb.Incr(ctx, cntKey).Result()
	if attempts < 1 { attempts = 1 }
	d := a.baseBackoff * (1 << (attempts - 1))
	if d > a.maxBackoff { d = a.maxBackoff }
	until := time.Now().Add(d).Unix()
	_ = a.rdb.Set(ctx, k, until, d).Err()
}

// Close resets the breaker and its attempt counter.
func (a *Adaptive) Close(ctx context.Context, service string) {
	k := a.key(service)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Allow reserves a local in-process slot for service. Returns a release
// function and true when a slot is free.
func (a *Adaptive) Allow(service string) (func(), bool) {
	key := strings.ToLower(service)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

func (a *Adaptive) CloseClient() error { return a.rdb.Close() }

// Bound fixes the service key so callers that only know one service can use
// the breaker without carrying the name around.
type Bound struct {
	a       *Adaptive
	service string
}

func (a *Adaptive) For(service string) *Bound { return &Bound{a: a, service: service} }

func (b *Bound) IsOpen(ctx context.Context) bool { return b.a.IsOpen(ctx, b.service) }
func (b *Bound) Open(ctx context.Context)        { b.a.Open(ctx, b.service) }
func (b *Bound) Close(ctx context.Context)       { b.a.Close(ctx, b.service) }
