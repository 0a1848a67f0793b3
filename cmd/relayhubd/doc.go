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
Command relayhubd runs the Relayhub API server.

It exposes every shipped connector, the registered connector profiles and
the chain runner over HTTP, and forwards usage events to the configured
logging endpoint.

# Usage

	relayhubd [--config relayhub.yaml]

# Configuration

Settings come from the YAML file and RELAYHUB_ environment variables:

  - RELAYHUB_SERVER_ADDR: listen address (default :8080)
  - RELAYHUB_SERVER_JWT_SECRET: enables HS256 bearer auth on /api/v1
  - RELAYHUB_LOGGING_ENDPOINT: usage event endpoint
  - RELAYHUB_HISTORY_BACKEND: file (default), redis or memory
  - RELAYHUB_REGISTRY_DATABASE_URL: PostgreSQL profile storage
  - RELAYHUB_CONNECTORS_FILE: YAML connector profile file
  - OPENAI_API_KEY: default key for openai chain models

On SIGINT or SIGTERM the server stops accepting requests, finishes the
in-flight ones and drains queued usage events before exiting.
*/
package main
