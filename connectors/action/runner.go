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

// Package action runs a single connector action from a normalized request:
// it validates the action against the connector's catalog, resolves
// credentials, acquires a connected instance from the registry, dispatches
// reads to Query and writes to Execute, and reports a connector_call usage
// event for every attempt.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
	"relayhub/platform/shared/logger"
)

// ErrInvalidRequest marks requests rejected before any connector is used
var ErrInvalidRequest = errors.New("invalid action request")

// endpointOptions point a connector at a host other than its service
// default. Requests may set them only together with their own credentials.
var endpointOptions = []string{"base_url", "endpoint", "api_host", "token_url", "authority_host"}

// profileOnlyOptions are honoured from stored profiles, never from requests.
var profileOnlyOptions = []string{"allow_private_ips", base.CredentialRefOption}

// Request is one connector call
type Request struct {
	Connector     string                 `json:"connector"`
	Profile       string                 `json:"profile,omitempty"`
	Action        string                 `json:"action"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Credentials   map[string]string      `json:"credentials,omitempty"`
	CredentialRef string                 `json:"credential_ref,omitempty"`
	ConnectionURL string                 `json:"connection_url,omitempty"`
	Options       map[string]interface{} `json:"options,omitempty"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// Response is the normalized result of a connector call
type Response struct {
	Connector  string                   `json:"connector"`
	Action     string                   `json:"action"`
	RequestID  string                   `json:"request_id"`
	Success    bool                     `json:"success"`
	Data       map[string]interface{}   `json:"data,omitempty"`
	Rows       []map[string]interface{} `json:"rows,omitempty"`
	RowCount   int                      `json:"row_count"`
	Message    string                   `json:"message,omitempty"`
	Metadata   map[string]interface{}   `json:"metadata,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
}

// ConnectorInfo lists the actions of one connector type
type ConnectorInfo struct {
	Type    string            `json:"type"`
	Actions []base.ActionSpec `json:"actions"`
}

// Runner executes action requests against a registry
type Runner struct {
	registry    *registry.Registry
	credentials registry.CredentialSource
	recorder    usage.Recorder
	limits      *sdk.MultiTenantRateLimiter
	retryAfter  time.Duration
	scopedRefs  bool
	log         *zap.SugaredLogger
}

// Option configures a Runner
type Option func(*Runner)

// WithCredentialSource resolves Request.CredentialRef
func WithCredentialSource(cs registry.CredentialSource) Option {
	return func(r *Runner) { r.credentials = cs }
}

// WithRecorder receives a connector_call event per Run
func WithRecorder(rec usage.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithTenantScopedRefs requires a tenant's credential_ref to start with
// "<tenant_id>/". Requests without a tenant are not restricted.
func WithTenantScopedRefs(enabled bool) Option {
	return func(r *Runner) { r.scopedRefs = enabled }
}

// WithTenantRateLimit caps each tenant at perSecond calls with the given
// burst. Calls over the limit fail with *sdk.RateLimitError.
func WithTenantRateLimit(perSecond float64, burst int) Option {
	return func(r *Runner) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limits = sdk.NewMultiTenantRateLimiter(perSecond, burst)
		r.retryAfter = time.Duration(float64(time.Second) / perSecond)
	}
}

// WithLogger overrides the runner logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a runner over reg
func NewRunner(reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		recorder: usage.NopRecorder{},
		log:      logger.New("action").Sugared("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the underlying registry
func (r *Runner) Registry() *registry.Registry { return r.registry }

// Catalog lists every registered connector type and its actions
func (r *Runner) Catalog() []ConnectorInfo {
	types := r.registry.Types()
	out := make([]ConnectorInfo, 0, len(types))
	for _, t := range types {
		info, err := r.Describe(t)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Describe returns the actions of one connector type, sorted by name
func (r *Runner) Describe(connectorType string) (ConnectorInfo, error) {
	actions, err := r.registry.Actions(connectorType)
	if err != nil {
		return ConnectorInfo{}, err
	}
	sorted := append([]base.ActionSpec(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return ConnectorInfo{Type: connectorType, Actions: sorted}, nil
}

// Run validates and executes req. Every attempt that reaches a connector
// type is reported, successful or not.
func (r *Runner) Run(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if req.RequestID == "" {
		req.RequestID = sdk.GetRequestID(ctx)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.TenantID == "" {
		req.TenantID = sdk.GetTenantID(ctx)
	}

	start := time.Now()
	resp, connectorType, err := r.run(ctx, req)
	elapsed := time.Since(start)

	if connectorType != "" {
		ev := usage.Event{
			Type:      usage.TypeConnectorCall,
			TenantID:  req.TenantID,
			RequestID: req.RequestID,
			Connector: connectorType,
			Action:    req.Action,
			LatencyMs: elapsed.Milliseconds(),
			Success:   err == nil,
		}
		if req.Profile != "" {
			ev.Fields = map[string]interface{}{"profile": req.Profile}
		}
		if err != nil {
			ev.Error = err.Error()
		}
		r.recorder.Report(ev)
	}

	if err != nil {
		r.log.Warnw("Action failed", "connector", connectorType, "action", req.Action,
			"request_id", req.RequestID, "tenant_id", req.TenantID, "error", err.Error())
		return nil, err
	}
	resp.DurationMs = elapsed.Milliseconds()
	r.log.Debugw("Action completed", "connector", connectorType, "action", req.Action,
		"request_id", req.RequestID, "duration_ms", resp.DurationMs)
	return resp, nil
}

func (r *Runner) run(ctx context.Context, req *Request) (*Response, string, error) {
	connectorType := req.Connector
	if req.Profile != "" {
		cfg, err := r.registry.Config(req.Profile)
		if err != nil {
			return nil, "", err
		}
		if connectorType != "" && connectorType != cfg.Type {
			return nil, "", fmt.Errorf("%w: profile %s is a %s connector, not %s", ErrInvalidRequest, req.Profile, cfg.Type, connectorType)
		}
		connectorType = cfg.Type
		if req.TenantID != "" {
			if err := r.registry.ValidateTenantAccess(req.Profile, req.TenantID); err != nil {
				return nil, connectorType, err
			}
		}
	}
	if connectorType == "" {
		return nil, "", fmt.Errorf("%w: connector or profile is required", ErrInvalidRequest)
	}
	if req.Action == "" {
		return nil, connectorType, fmt.Errorf("%w: action is required", ErrInvalidRequest)
	}

	actions, err := r.registry.Actions(connectorType)
	if err != nil {
		return nil, "", err
	}
	spec, ok := base.FindAction(actions, req.Action)
	if !ok {
		return nil, connectorType, base.UnknownAction(connectorType, "Run", req.Action)
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := spec.Validate(params); err != nil {
		return nil, connectorType, err
	}
	if r.limits != nil && !r.limits.TryAcquire(req.TenantID) {
		return nil, connectorType, &sdk.RateLimitError{
			Message:    fmt.Sprintf("tenant %q exceeded its call rate", req.TenantID),
			RetryAfter: r.retryAfter,
		}
	}

	conn, release, err := r.connector(ctx, connectorType, req)
	if err != nil {
		return nil, connectorType, err
	}
	defer release()

	ctx = sdk.WithRequestID(sdk.WithTenantID(ctx, req.TenantID), req.RequestID)
	resp := &Response{Connector: connectorType, Action: req.Action, RequestID: req.RequestID}

	switch spec.Kind {
	case base.ActionRead:
		res, err := conn.Query(ctx, &base.Query{Statement: req.Action, Parameters: params})
		if err != nil {
			return nil, connectorType, err
		}
		resp.Success = true
		resp.Rows = res.Rows
		resp.RowCount = res.RowCount
		resp.Metadata = res.Metadata
		if resp.RowCount == 0 {
			resp.RowCount = len(res.Rows)
		}
	default:
		res, err := conn.Execute(ctx, &base.Command{Action: req.Action, Parameters: params})
		if err != nil {
			return nil, connectorType, err
		}
		resp.Success = res.Success
		resp.Data = res.Data
		resp.RowCount = res.RowsAffected
		resp.Message = res.Message
		resp.Metadata = res.Metadata
	}
	return resp, connectorType, nil
}

// connector returns the profile instance or a pooled instance leased for
// the request's own configuration, with the func that gives it back.
func (r *Runner) connector(ctx context.Context, connectorType string, req *Request) (base.Connector, func(), error) {
	if req.Profile != "" {
		conn, err := r.registry.Get(ctx, req.Profile)
		return conn, func() {}, err
	}

	if err := r.CheckOverrides(req); err != nil {
		return nil, nil, err
	}
	creds := req.Credentials
	if req.CredentialRef != "" {
		if r.credentials == nil {
			return nil, nil, fmt.Errorf("%w: credential_ref given but no credential source is configured", ErrInvalidRequest)
		}
		resolved, err := r.credentials.Resolve(ctx, req.Credentials, req.CredentialRef)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve credentials: %w", err)
		}
		creds = resolved
	}

	cfg := &base.ConnectorConfig{
		Name:          connectorType,
		Type:          connectorType,
		ConnectionURL: req.ConnectionURL,
		Credentials:   creds,
		Options:       req.Options,
		TenantID:      req.TenantID,
	}
	return r.registry.Acquire(ctx, cfg)
}

// CheckOverrides rejects request-supplied configuration that could send
// stored secrets to a caller-chosen host: profile-only options, a
// connection_url or endpoint option combined with a credential_ref, a
// credential_ref outside the tenant's scope, and endpoint options that
// fail URL validation.
func (r *Runner) CheckOverrides(req *Request) error {
	for _, key := range profileOnlyOptions {
		if _, ok := req.Options[key]; ok {
			return fmt.Errorf("%w: option %s may only be set on a profile", ErrInvalidRequest, key)
		}
	}
	var overrides []string
	if req.ConnectionURL != "" {
		overrides = append(overrides, "connection_url")
	}
	for _, key := range endpointOptions {
		if _, ok := req.Options[key]; ok {
			overrides = append(overrides, key)
		}
	}
	if req.CredentialRef != "" {
		if len(overrides) > 0 {
			return fmt.Errorf("%w: %s cannot be combined with credential_ref", ErrInvalidRequest, strings.Join(overrides, ", "))
		}
		if r.scopedRefs && req.TenantID != "" && !strings.HasPrefix(req.CredentialRef, req.TenantID+"/") {
			return fmt.Errorf("%w: credential_ref is outside tenant %s", registry.ErrAccessDenied, req.TenantID)
		}
		return nil
	}
	for _, key := range endpointOptions {
		raw := base.GetString(req.Options, key, "")
		if raw == "" {
			continue
		}
		target := raw
		if !strings.Contains(raw, "://") {
			target = "https://" + raw
		}
		if err := base.ValidateURL(target, base.DefaultURLValidationOptions()); err != nil {
			return fmt.Errorf("%w: option %s: %v", ErrInvalidRequest, key, err)
		}
	}
	return nil
}
