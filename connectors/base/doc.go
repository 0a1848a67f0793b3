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
Package base provides the core interfaces and types shared by every
Relayhub service connector.

# Overview

A connector turns a normalized parameter map plus stored credentials into
one call against a third-party service (S3, Dropbox, Google Calendar,
Notion, Zoom, ...) and returns a normalized result. Read actions are
served by Query, write actions by Execute:

	result, err := conn.Query(ctx, &base.Query{
	    Statement:  "list_events",
	    Parameters: map[string]interface{}{"calendar_id": "primary"},
	})

	res, err := conn.Execute(ctx, &base.Command{
	    Action:     "create_page",
	    Parameters: map[string]interface{}{"parent_id": "...", "title": "Notes"},
	})

# Action Catalog

Connectors implementing ActionDescriber publish an ActionSpec per action
with its kind and required parameters. RequireParams and the typed Get*
helpers are used to read parameters consistently across connectors.

# Errors

All connector failures are wrapped in ConnectorError. Non-2xx answers from
a service are reported as *APIError carrying the status code and the
(truncated) response body; use errors.As or IsStatus to inspect them.
Missing parameters are reported as *MissingParamError before any I/O.

# Thread Safety

All Connector implementations must be safe for concurrent use.
*/
package base
