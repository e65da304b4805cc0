// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/bicqa/bicqa/services/knowledge"
	"github.com/bicqa/bicqa/services/llm"
)

// ErrorKind is the closed classification taxonomy for pipeline failures.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindAuth             ErrorKind = "auth"
	KindPermission       ErrorKind = "permission"
	KindConfigIncomplete ErrorKind = "configIncomplete"
	KindNotFound         ErrorKind = "notFound"
	KindRateLimited      ErrorKind = "rateLimited"
	KindServerInternal   ErrorKind = "serverInternal"
	KindBadRequest       ErrorKind = "badRequest"
	KindUnknown          ErrorKind = "unknown"

	// KindAbortedByUser marks a normal cancellation outcome, not a failure.
	KindAbortedByUser ErrorKind = "abortedByUser"
)

// Stage identifies which pipeline collaborator an error came from, so the
// caller can route the message to the correct part of the UI.
type Stage string

const (
	StageKnowledge Stage = "knowledge"
	StageModel     Stage = "model"
)

// ClassifiedError is the user-presentable form of a pipeline failure.
// Internal collaborators raise raw errors; only the orchestrator produces
// these, via Classify.
type ClassifiedError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return string(e.Stage) + "/" + string(e.Kind) + ": " + e.Message
}

// IsAborted reports whether the error represents a user cancellation rather
// than a genuine failure.
func (e *ClassifiedError) IsAborted() bool {
	return e.Kind == KindAbortedByUser
}

// Classify converts a raw pipeline error into a ClassifiedError. The kind is
// derived from the error's type, never from message substrings. Unrecognized
// errors resolve to unknown with the original message preserved; Classify
// itself never fails.
func Classify(err error, stage Stage) *ClassifiedError {
	if err == nil {
		return nil
	}

	out := &ClassifiedError{Kind: KindUnknown, Stage: stage, Message: err.Error()}

	if errors.Is(err, context.Canceled) {
		out.Kind = KindAbortedByUser
		return out
	}

	if se, ok := llm.IsStatusError(err); ok {
		out.Kind = kindForStatus(se.StatusCode)
		return out
	}
	if re, ok := knowledge.IsRetrievalError(err); ok {
		out.Stage = StageKnowledge
		if re.StatusCode > 0 {
			out.Kind = kindForStatus(re.StatusCode)
		} else {
			out.Kind = KindNetwork
		}
		return out
	}
	if errors.Is(err, ErrConfigIncomplete) {
		out.Kind = KindConfigIncomplete
		return out
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		out.Kind = KindNetwork
		return out
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		out.Kind = KindNetwork
		return out
	}

	return out
}

// kindForStatus maps an HTTP status code onto the taxonomy.
func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError:
		return KindServerInternal
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServerInternal
	default:
		return KindUnknown
	}
}
