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

package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/base"
	"relayhub/platform/shared/logger"
)

// Factory creates an unconnected connector instance
type Factory func() base.Connector

// CredentialSource resolves a credential reference, merging the secret
// values under any inline credentials.
type CredentialSource interface {
	Resolve(ctx context.Context, inline map[string]string, ref string) (map[string]string, error)
}

// CredentialRefOption is the option key that names a secret reference
const CredentialRefOption = base.CredentialRefOption

// DefaultPoolSize bounds the number of pooled connected instances
const DefaultPoolSize = 64

// DefaultConnectTimeout applies when a config has no timeout
const DefaultConnectTimeout = 30 * time.Second

// Errors returned by the registry
var (
	ErrUnknownType     = errors.New("unknown connector type")
	ErrProfileNotFound = errors.New("connector profile not found")
	ErrProfileExists   = errors.New("connector profile already registered")
	ErrAccessDenied    = errors.New("tenant does not have access to connector profile")
)

// ProfileInfo summarizes a registered profile
type ProfileInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id,omitempty"`
	Connected bool   `json:"connected"`
}

type profile struct {
	config *base.ConnectorConfig
	conn   base.Connector // nil until first use
}

// pooled is a shared instance. It is disconnected once it has left the
// pool and its last lease is released.
type pooled struct {
	conn    base.Connector
	refs    int
	evicted bool
}

// Registry holds connector factories, named profiles and a pool of
// connected instances
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	actions   map[string][]base.ActionSpec
	profiles  map[string]*profile

	poolMu  sync.Mutex
	pool    *lru.Cache[string, *pooled]
	retired []base.Connector // evicted and idle, guarded by poolMu
	dials   singleflight.Group

	storage     Storage
	credentials CredentialSource
	recorder    usage.Recorder
	log         *zap.SugaredLogger
}

// Option configures a Registry
type Option func(*settings)

type settings struct {
	poolSize    int
	storage     Storage
	credentials CredentialSource
	recorder    usage.Recorder
	log         *zap.SugaredLogger
}

// WithPoolSize sets the LRU pool capacity
func WithPoolSize(n int) Option { return func(s *settings) { s.poolSize = n } }

// WithStorage persists profiles
func WithStorage(st Storage) Option { return func(s *settings) { s.storage = st } }

// WithCredentialSource resolves credential_ref options on connect
func WithCredentialSource(cs CredentialSource) Option {
	return func(s *settings) { s.credentials = cs }
}

// WithRecorder receives usage events from connectors that report them
func WithRecorder(rec usage.Recorder) Option { return func(s *settings) { s.recorder = rec } }

// WithLogger overrides the registry logger
func WithLogger(l *zap.SugaredLogger) Option { return func(s *settings) { s.log = l } }

// New creates an empty registry
func New(opts ...Option) *Registry {
	s := settings{poolSize: DefaultPoolSize}
	for _, opt := range opts {
		opt(&s)
	}
	if s.poolSize <= 0 {
		s.poolSize = DefaultPoolSize
	}
	if s.log == nil {
		s.log = logger.New("registry").Sugared("registry")
	}
	r := &Registry{
		factories:   map[string]Factory{},
		actions:     map[string][]base.ActionSpec{},
		profiles:    map[string]*profile{},
		storage:     s.storage,
		credentials: s.credentials,
		recorder:    s.recorder,
		log:         s.log,
	}
	// NewWithEvict only fails for a non-positive size. The callback runs
	// with poolMu held.
	r.pool, _ = lru.NewWithEvict[string, *pooled](s.poolSize, func(key string, p *pooled) {
		p.evicted = true
		if p.refs == 0 {
			r.retired = append(r.retired, p.conn)
		}
	})
	return r
}

// RegisterFactory makes a connector type available
func (r *Registry) RegisterFactory(connectorType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[connectorType] = f
	delete(r.actions, connectorType)
}

// Types lists registered connector types in order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create returns a new unconnected instance of connectorType
func (r *Registry) Create(connectorType string) (base.Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[connectorType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, connectorType)
	}
	return f(), nil
}

// Actions returns the action catalog of connectorType. Catalogs are read
// from a fresh instance once per type.
func (r *Registry) Actions(connectorType string) ([]base.ActionSpec, error) {
	r.mu.RLock()
	cached, ok := r.actions[connectorType]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	c, err := r.Create(connectorType)
	if err != nil {
		return nil, err
	}
	var actions []base.ActionSpec
	if d, ok := c.(base.ActionDescriber); ok {
		actions = d.Actions()
	}
	r.mu.Lock()
	r.actions[connectorType] = actions
	r.mu.Unlock()
	return actions, nil
}

// Register creates and connects a profile, then persists it when storage
// is configured. A persistence failure is logged, not returned.
func (r *Registry) Register(ctx context.Context, name string, cfg *base.ConnectorConfig) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if cfg == nil {
		return fmt.Errorf("profile %s: config is required", name)
	}
	r.mu.RLock()
	_, exists := r.profiles[name]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrProfileExists, name)
	}

	cfg = cloneConfig(cfg)
	if cfg.Name == "" {
		cfg.Name = name
	}
	conn, err := r.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect profile %s: %w", name, err)
	}

	r.mu.Lock()
	if _, exists := r.profiles[name]; exists {
		r.mu.Unlock()
		_ = conn.Disconnect(ctx)
		return fmt.Errorf("%w: %s", ErrProfileExists, name)
	}
	r.profiles[name] = &profile{config: cfg, conn: conn}
	r.mu.Unlock()

	if r.storage != nil {
		if err := r.storage.SaveConnector(ctx, name, cfg); err != nil {
			r.log.Warnf("Failed to persist profile %s: %v", name, err)
		}
	}
	r.log.Infof("Registered profile %s (type: %s)", name, cfg.Type)
	return nil
}

// Get returns the connected instance of a profile, connecting it on
// first use when it was loaded from storage.
func (r *Registry) Get(ctx context.Context, name string) (base.Connector, error) {
	r.mu.RLock()
	p, ok := r.profiles[name]
	var conn base.Connector
	if ok {
		conn = p.conn
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if conn != nil {
		return conn, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	r.log.Infof("Lazy-loading profile %s (type: %s)", name, p.config.Type)
	conn, err := r.connect(ctx, p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect profile %s: %w", name, err)
	}
	p.conn = conn
	return conn, nil
}

// Config returns a copy of a profile's configuration
func (r *Registry) Config(name string) (*base.ConnectorConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return cloneConfig(p.config), nil
}

// List returns the registered profiles sorted by name. A non-empty
// tenantID limits the list to that tenant's and shared ("*") profiles.
func (r *Registry) List(tenantID string) []ProfileInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProfileInfo, 0, len(r.profiles))
	for name, p := range r.profiles {
		if tenantID != "" && !tenantAllowed(p.config, tenantID) {
			continue
		}
		out = append(out, ProfileInfo{Name: name, Type: p.config.Type, TenantID: p.config.TenantID, Connected: p.conn != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateTenantAccess checks that tenantID may use the profile
func (r *Registry) ValidateTenantAccess(name, tenantID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if !tenantAllowed(p.config, tenantID) {
		return fmt.Errorf("%w: tenant %s, profile %s", ErrAccessDenied, tenantID, name)
	}
	return nil
}

func tenantAllowed(cfg *base.ConnectorConfig, tenantID string) bool {
	return cfg.TenantID == "" || cfg.TenantID == "*" || cfg.TenantID == tenantID
}

// Unregister disconnects and removes a profile
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.profiles[name]
	if ok {
		delete(r.profiles, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	if p.conn != nil {
		if err := p.conn.Disconnect(ctx); err != nil {
			r.log.Warnf("Error disconnecting profile %s: %v", name, err)
		}
	}
	if r.storage != nil {
		if err := r.storage.DeleteConnector(ctx, name); err != nil {
			r.log.Warnf("Failed to delete profile %s from storage: %v", name, err)
		}
	}
	r.log.Infof("Unregistered profile %s", name)
	return nil
}

// HealthCheckAll checks every connected profile and records the result
// in storage when configured.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]*base.HealthStatus {
	r.mu.RLock()
	conns := make(map[string]base.Connector, len(r.profiles))
	for name, p := range r.profiles {
		if p.conn != nil {
			conns[name] = p.conn
		}
	}
	r.mu.RUnlock()

	results := make(map[string]*base.HealthStatus, len(conns))
	for name, c := range conns {
		status, err := c.HealthCheck(ctx)
		if err != nil || status == nil {
			status = &base.HealthStatus{Healthy: false, Timestamp: time.Now()}
			if err != nil {
				status.Error = err.Error()
			}
		}
		results[name] = status
		if r.storage != nil {
			if err := r.storage.UpdateHealth(ctx, name, status); err != nil {
				r.log.Warnf("Failed to record health of %s: %v", name, err)
			}
		}
	}
	return results
}

// Acquire leases a connected instance for cfg from the pool, creating and
// connecting one on a miss. The caller must call release when done with
// the instance; an instance evicted while leased stays connected until its
// last lease is released. Concurrent misses for the same config share one
// connect, which runs without holding the pool lock.
func (r *Registry) Acquire(ctx context.Context, cfg *base.ConnectorConfig) (c base.Connector, release func(), err error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	key, err := Fingerprint(cfg)
	if err != nil {
		return nil, nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		if c, release, ok := r.lease(key); ok {
			return c, release, nil
		}
		_, err, _ := r.dials.Do(key, func() (interface{}, error) {
			dialCfg := cloneConfig(cfg)
			if dialCfg.Name == "" {
				dialCfg.Name = dialCfg.Type
			}
			conn, err := r.connect(ctx, dialCfg)
			if err != nil {
				return nil, err
			}
			r.poolMu.Lock()
			if _, ok := r.pool.Peek(key); ok {
				// Raced with an earlier dial for the same key.
				r.retired = append(r.retired, conn)
			} else {
				r.pool.Add(key, &pooled{conn: conn})
			}
			r.poolMu.Unlock()
			r.disconnectRetired()
			return nil, nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("pooled %s connector was evicted before it could be leased", cfg.Type)
}

// lease takes a reference on the pooled instance for key, if any
func (r *Registry) lease(key string) (base.Connector, func(), bool) {
	r.poolMu.Lock()
	p, ok := r.pool.Get(key)
	if !ok {
		r.poolMu.Unlock()
		return nil, nil, false
	}
	p.refs++
	r.poolMu.Unlock()

	var once sync.Once
	return p.conn, func() {
		once.Do(func() {
			r.poolMu.Lock()
			p.refs--
			if p.evicted && p.refs == 0 {
				r.retired = append(r.retired, p.conn)
			}
			r.poolMu.Unlock()
			r.disconnectRetired()
		})
	}, true
}

// disconnectRetired disconnects instances that left the pool with no
// outstanding leases.
func (r *Registry) disconnectRetired() {
	r.poolMu.Lock()
	retired := r.retired
	r.retired = nil
	r.poolMu.Unlock()

	for _, c := range retired {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Disconnect(ctx); err != nil {
			r.log.Warnf("Error disconnecting pooled %s connector: %v", c.Type(), err)
		}
		cancel()
	}
}

// Recorder returns the usage recorder, a NopRecorder when none is set
func (r *Registry) Recorder() usage.Recorder {
	if r.recorder == nil {
		return usage.NopRecorder{}
	}
	return r.recorder
}

// PoolLen reports how many connected instances are pooled
func (r *Registry) PoolLen() int {
	return r.pool.Len()
}

// Close disconnects every profile and idle pooled instance. Leased
// instances disconnect when released.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	for name, p := range r.profiles {
		if p.conn == nil {
			continue
		}
		if err := p.conn.Disconnect(ctx); err != nil {
			r.log.Warnf("Error disconnecting profile %s: %v", name, err)
		}
		p.conn = nil
	}
	r.mu.Unlock()

	r.poolMu.Lock()
	r.pool.Purge()
	r.poolMu.Unlock()
	r.disconnectRetired()

	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			r.log.Warnf("Error closing profile storage: %v", err)
		}
	}
	r.log.Infof("All connectors disconnected")
}

// LoadFromStorage reads persisted profiles that are not yet known. They
// connect on first Get.
func (r *Registry) LoadFromStorage(ctx context.Context) (int, error) {
	if r.storage == nil {
		return 0, nil
	}
	names, err := r.storage.ListConnectors(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	loaded := 0
	for _, name := range names {
		r.mu.RLock()
		_, known := r.profiles[name]
		r.mu.RUnlock()
		if known {
			continue
		}
		cfg, err := r.storage.GetConnector(ctx, name)
		if err != nil {
			r.log.Warnf("Failed to load profile %s: %v", name, err)
			continue
		}
		r.mu.Lock()
		if _, known := r.profiles[name]; !known {
			r.profiles[name] = &profile{config: cfg}
			loaded++
		}
		r.mu.Unlock()
	}
	if loaded > 0 {
		r.log.Infof("Loaded %d profile(s) from storage", loaded)
	}
	return loaded, nil
}

// StartPeriodicReload picks up profiles registered by other replicas
// until ctx is done.
func (r *Registry) StartPeriodicReload(ctx context.Context, interval time.Duration) {
	if r.storage == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.LoadFromStorage(ctx); err != nil {
					r.log.Warnf("Periodic profile reload failed: %v", err)
				}
			}
		}
	}()
}

// connect creates an instance for cfg, resolves a credential_ref and
// connects it within the config timeout.
func (r *Registry) connect(ctx context.Context, cfg *base.ConnectorConfig) (base.Connector, error) {
	c, err := r.Create(cfg.Type)
	if err != nil {
		return nil, err
	}
	connectCfg := cfg
	if ref, _ := cfg.Options[CredentialRefOption].(string); ref != "" {
		if r.credentials == nil {
			return nil, fmt.Errorf("profile %s uses credential_ref but no credential source is configured", cfg.Name)
		}
		creds, err := r.credentials.Resolve(ctx, cfg.Credentials, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		connectCfg = cloneConfig(cfg)
		connectCfg.Credentials = creds
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Connect(cctx, connectCfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Fingerprint hashes the parts of cfg that make two instances
// interchangeable. Credentials are part of the hash, never of the key.
func Fingerprint(cfg *base.ConnectorConfig) (string, error) {
	raw, err := json.Marshal(struct {
		Type        string                 `json:"type"`
		URL         string                 `json:"url"`
		TenantID    string                 `json:"tenant_id"`
		Options     map[string]interface{} `json:"options"`
		Credentials map[string]string      `json:"credentials"`
		Timeout     time.Duration          `json:"timeout"`
		MaxRetries  int                    `json:"max_retries"`
	}{cfg.Type, cfg.ConnectionURL, cfg.TenantID, cfg.Options, cfg.Credentials, cfg.Timeout, cfg.MaxRetries})
	if err != nil {
		return "", fmt.Errorf("fingerprint config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func cloneConfig(cfg *base.ConnectorConfig) *base.ConnectorConfig {
	out := *cfg
	out.Credentials = make(map[string]string, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		out.Credentials[k] = v
	}
	out.Options = make(map[string]interface{}, len(cfg.Options))
	for k, v := range cfg.Options {
		out.Options[k] = v
	}
	return &out
}
