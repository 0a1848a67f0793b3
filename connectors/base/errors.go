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

package base

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxErrorBody bounds how much of an upstream response body is kept in errors.
const maxErrorBody = 500

// ErrUnknownAction is wrapped by connectors when an action name is not in their catalog.
var ErrUnknownAction = errors.New("unknown action")

// ConnectorError represents errors specific to connector operations
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}

// UnknownAction returns the error connectors raise for actions they do not support.
func UnknownAction(connectorName, operation, action string) *ConnectorError {
	return NewConnectorError(connectorName, operation, fmt.Sprintf("unknown action: %s", action), ErrUnknownAction)
}

// APIError is returned when a third-party service answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

// NewAPIError builds an APIError, truncating the body text.
func NewAPIError(method, url string, status int, body []byte) *APIError {
	text := string(body)
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "...[truncated]"
	}
	return &APIError{StatusCode: status, Method: method, URL: url, Body: text}
}

func (e *APIError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsStatus reports whether err carries an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}

// MissingParamError is returned when a required action parameter is absent or empty.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}
