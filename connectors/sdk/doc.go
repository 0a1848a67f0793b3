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

/*
Package sdk provides the building blocks service connectors are made of.

# BaseConnector

Connectors embed BaseConnector and register one handler per action:

	type Connector struct {
	    *sdk.BaseConnector
	    client *sdk.RESTClient
	}

	func (c *Connector) Query(ctx context.Context, q *base.Query) (*base.QueryResult, error) {
	    return c.RunQuery(ctx, q, map[string]sdk.ReadHandler{
	        "get_page": c.getPage,
	    })
	}

RunQuery and RunCommand check the connection state, validate required
parameters against the registered ActionSpecs, wait on the rate limiter,
apply timeouts, record Prometheus metrics and wrap errors in
base.ConnectorError.

# REST Client

RESTClient sends JSON (or form/raw) requests, applies an AuthProvider,
retries idempotent calls on 408, 429 and 5xx with exponential backoff and
Retry-After support, and maps non-2xx responses to *base.APIError.

# Authentication

  - APIKeyAuth / NewHeaderAuth: static key in a header or query parameter
  - QueryParamsAuth: several fixed query credentials
  - BasicAuth, BearerTokenAuth: static credentials
  - OAuthAuth: any oauth2.TokenSource (client credentials, refresh tokens)
  - AzureTokenAuth: Microsoft Entra ID tokens from an azcore.TokenCredential
  - ChainedAuth: several providers in order

GoogleTokenSource turns connector credentials into a Google token source.

# Testing

MockConnector and TestHarness support registry, runner and connector tests.
*/
package sdk
