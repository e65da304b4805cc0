// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// unreadableBody replaces the response body when reading it fails. A failed
// body read is tolerated, never fatal on its own.
const unreadableBody = "(response body unavailable)"

// StatusError is raised for any non-2xx provider response. The message is
// derived from the status code via the fixed table in statusMessage, with
// the raw body appended when one could be read.
//
// StatusError carries the stage tag implicitly: it always originates from
// the model transport.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := statusMessage(e.StatusCode)
	if e.Body != "" && e.Body != unreadableBody {
		return fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return msg
}

// IsStatusError extracts a StatusError from an error chain.
func IsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// statusMessage maps an HTTP status code to a stable human message.
func statusMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "the provider rejected the request as malformed"
	case http.StatusUnauthorized:
		return "authentication with the model provider failed"
	case http.StatusForbidden:
		return "the model provider denied permission for this request"
	case http.StatusNotFound:
		return "the requested model or endpoint was not found"
	case http.StatusTooManyRequests:
		return "the model provider is rate limiting requests"
	case http.StatusInternalServerError:
		return "the model provider reported an internal error"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "the model provider is temporarily unavailable"
	default:
		return fmt.Sprintf("the model provider returned status %d (%s)", code, http.StatusText(code))
	}
}
