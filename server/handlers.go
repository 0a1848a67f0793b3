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

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"relayhub/platform/chains"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
)

// ActionRequest is the body of POST /api/v1/connectors/{type}/actions/{action}
type ActionRequest struct {
	Profile       string                 `json:"profile,omitempty"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Credentials   map[string]string      `json:"credentials,omitempty"`
	CredentialRef string                 `json:"credential_ref,omitempty"`
	ConnectionURL string                 `json:"connection_url,omitempty"`
	Options       map[string]interface{} `json:"options,omitempty"`
	TenantID      string                 `json:"tenant_id,omitempty"`
}

// ProfileRequest is the body of POST /api/v1/profiles. Only the
// credential_ref is persisted when one is given.
type ProfileRequest struct {
	Name           string                 `json:"name"`
	Type           string                 `json:"type"`
	ConnectionURL  string                 `json:"connection_url,omitempty"`
	Credentials    map[string]string      `json:"credentials,omitempty"`
	CredentialRef  string                 `json:"credential_ref,omitempty"`
	Options        map[string]interface{} `json:"options,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
	MaxRetries     int                    `json:"max_retries,omitempty"`
	TenantID       string                 `json:"tenant_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.ready.Load() {
		status = "stopping"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "relayhub",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"connectors": s.runner.Catalog()})
}

func (s *Server) handleDescribeConnector(w http.ResponseWriter, r *http.Request) {
	info, err := s.runner.Describe(mux.Vars(r)["type"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	req := &action.Request{
		Connector:     vars["type"],
		Action:        vars["action"],
		Profile:       body.Profile,
		Params:        body.Params,
		Credentials:   body.Credentials,
		CredentialRef: body.CredentialRef,
		ConnectionURL: body.ConnectionURL,
		Options:       body.Options,
		TenantID:      tenantOr(r, body.TenantID),
		RequestID:     sdk.GetRequestID(r.Context()),
	}
	resp, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunChain(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "chain service is not configured",
			RequestID: sdk.GetRequestID(r.Context()),
		})
		return
	}
	var req chains.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.TenantID = tenantOr(r, req.TenantID)
	req.RequestID = sdk.GetRequestID(r.Context())

	resp, err := s.chains.Run(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.runner.Registry().List(tenantOf(r)),
	})
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var body ProfileRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.profileConfig(r, &body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.runner.Registry().Register(r.Context(), body.Name, cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registry.ProfileInfo{
		Name:      body.Name,
		Type:      cfg.Type,
		TenantID:  cfg.TenantID,
		Connected: true,
	})
}

func (s *Server) profileConfig(r *http.Request, body *ProfileRequest) (*base.ConnectorConfig, error) {
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBadRequest)
	}
	if body.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrBadRequest)
	}
	if _, err := s.runner.Registry().Actions(body.Type); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if body.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: timeout_seconds must not be negative", ErrBadRequest)
	}
	tenant := tenantOr(r, body.TenantID)
	if err := s.runner.CheckOverrides(&action.Request{
		TenantID:      tenant,
		ConnectionURL: body.ConnectionURL,
		CredentialRef: body.CredentialRef,
		Options:       body.Options,
	}); err != nil {
		return nil, err
	}

	options := make(map[string]interface{}, len(body.Options)+1)
	for k, v := range body.Options {
		options[k] = v
	}
	if body.CredentialRef != "" {
		options[base.CredentialRefOption] = body.CredentialRef
	}
	return &base.ConnectorConfig{
		Name:          body.Name,
		Type:          body.Type,
		ConnectionURL: body.ConnectionURL,
		Credentials:   body.Credentials,
		Options:       options,
		Timeout:       time.Duration(body.TimeoutSeconds) * time.Second,
		MaxRetries:    body.MaxRetries,
		TenantID:      tenant,
	}, nil
}

// tenantOf returns the authenticated or header-supplied tenant
func tenantOf(r *http.Request) string {
	return sdk.GetTenantID(r.Context())
}

// tenantOr prefers the request tenant over a client-supplied fallback
func tenantOr(r *http.Request, fallback string) string {
	if tenant := tenantOf(r); tenant != "" {
		return tenant
	}
	return fallback
}
