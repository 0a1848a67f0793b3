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
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"relayhub/platform/connectors/base"
)

// GoogleTokenSource builds a token source from connector credentials, in
// order of preference:
//
//   - service_account_json (optionally impersonating "subject")
//   - refresh_token with client_id and client_secret
//   - access_token
func GoogleTokenSource(ctx context.Context, creds map[string]string, scopes ...string) (oauth2.TokenSource, error) {
	ctx = context.WithoutCancel(ctx)
	if raw := creds["service_account_json"]; raw != "" {
		cfg, err := google.JWTConfigFromJSON([]byte(raw), scopes...)
		if err != nil {
			return nil, fmt.Errorf("invalid service account JSON: %w", err)
		}
		if subject := creds["subject"]; subject != "" {
			cfg.Subject = subject
		}
		return cfg.TokenSource(ctx), nil
	}

	if refresh := creds["refresh_token"]; refresh != "" {
		if creds["client_id"] == "" || creds["client_secret"] == "" {
			return nil, fmt.Errorf("refresh_token requires client_id and client_secret")
		}
		cfg := &oauth2.Config{
			ClientID:     creds["client_id"],
			ClientSecret: creds["client_secret"],
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}
		return cfg.TokenSource(ctx, &oauth2.Token{AccessToken: creds["access_token"], RefreshToken: refresh}), nil
	}

	if access := creds["access_token"]; access != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}), nil
	}

	return nil, fmt.Errorf("google credentials require service_account_json, refresh_token or access_token")
}

// GoogleAPIError converts a *googleapi.Error into a *base.APIError so Google
// SDK failures map to upstream errors like every REST connector's. Other
// errors are returned unchanged.
func GoogleAPIError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	body := gerr.Body
	if body == "" {
		body = gerr.Message
	}
	return base.NewAPIError("", "", gerr.Code, []byte(body))
}

// GoogleClientOptions returns the options for constructing a Google API
// service. endpoint overrides the service base path when non-empty. An
// explicit httpClient replaces token auth entirely.
func GoogleClientOptions(ctx context.Context, creds map[string]string, endpoint string, httpClient *http.Client, scopes ...string) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if httpClient != nil {
		return append(opts, option.WithHTTPClient(httpClient)), nil
	}
	ts, err := GoogleTokenSource(ctx, creds, scopes...)
	if err != nil {
		return nil, err
	}
	return append(opts, option.WithTokenSource(ts)), nil
}
