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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"relayhub/platform/chains"
	"relayhub/platform/chains/memory"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
)

// maxBodyBytes bounds request bodies; chain configs may inline documents.
const maxBodyBytes = 4 << 20

// ErrBadRequest marks malformed request bodies
var ErrBadRequest = errors.New("bad request")

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error          string `json:"error"`
	RequestID      string `json:"request_id,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	UpstreamBody   string `json:"upstream_body,omitempty"`
}

// StatusFor maps an error to the HTTP status returned to clients
func StatusFor(err error) int {
	var (
		missingParam *base.MissingParamError
		missingInput *chains.MissingInputError
		apiErr       *base.APIError
		rateErr      *sdk.RateLimitError
	)
	switch {
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &apiErr), errors.Is(err, sdk.ErrResponseTooLarge):
		return http.StatusBadGateway
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, action.ErrInvalidRequest),
		errors.Is(err, base.ErrUnknownAction),
		errors.Is(err, chains.ErrInvalidConfig),
		errors.Is(err, memory.ErrInvalidID),
		errors.As(err, &missingParam),
		errors.As(err, &missingInput):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrUnknownType), errors.Is(err, registry.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrProfileExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), RequestID: w.Header().Get(RequestIDHeader)}
	var (
		apiErr  *base.APIError
		rateErr *sdk.RateLimitError
	)
	if errors.As(err, &apiErr) {
		resp.UpstreamStatus = apiErr.StatusCode
		resp.UpstreamBody = apiErr.Body
	}
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		s.log.ErrorWithCode(tenantOf(r), resp.RequestID, "Request failed", status, err, map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
		})
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", ErrBadRequest, err)
	}
	return nil
}
