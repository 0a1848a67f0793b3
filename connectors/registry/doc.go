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
Package registry creates, connects and caches connector instances.

# Factories

Every connector type is registered once with a factory:

	r := registry.New()
	r.RegisterFactory("notion", func() base.Connector { return notion.NewConnector() })

DefaultRegistry registers every shipped connector.

# Profiles

A profile is a named, connected configuration, typically one per
tenant integration:

	err := r.Register(ctx, "acme-notion", &base.ConnectorConfig{
	    Type:        "notion",
	    TenantID:    "acme",
	    Credentials: map[string]string{"token": "secret_..."},
	})
	c, err := r.Get(ctx, "acme-notion")

With a Storage attached, profiles are persisted and loaded lazily: the
configuration is read at startup and the connector is only created and
connected on first Get. Profiles whose options carry a credential_ref
are persisted with the reference only and resolved through the
CredentialSource on connect.

# Pool

Acquire serves one-off calls that carry their own configuration. It
returns a connected instance from an LRU pool keyed by a SHA-256
fingerprint of type, URL, options and credentials. Evicted instances are
disconnected.

# Thread Safety

Registry is safe for concurrent use.
*/
package registry
