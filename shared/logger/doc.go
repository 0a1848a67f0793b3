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
Package logger provides structured JSON logging with multi-tenant support
for Relayhub components, built on zap.

# Usage

	log := logger.New("connectors")

	log.Info("tenant-123", "req-456", "Action completed", map[string]interface{}{
	    "connector": "notion",
	    "action":    "query_database",
	})

	log.ErrorWithCode("tenant-123", "req-456", "Upstream failed", 502, err, nil)

Connectors receive a printf-style logger via Sugared:

	log.Sugared("s3").Infof("uploaded %s", key)

# Output Format

Entries are single-line JSON:

	{"level":"INFO","timestamp":"2025-01-15T10:30:00.123456789Z",
	 "message":"Action completed","component":"connectors",
	 "instance_id":"i-abc123","container":"relayhub-xyz",
	 "client_id":"tenant-123","request_id":"req-456","action":"query_database"}

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: debug, info (default), warn or error
*/
package logger
