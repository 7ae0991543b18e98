/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrKind string

const (
	KindUnauthorized  ErrKind = "unauthorized"
	KindForbidden     ErrKind = "forbidden"
	KindNotFound      ErrKind = "not_found"
	KindValidation    ErrKind = "validation_error"
	KindUpstream      ErrKind = "upstream_error"
	KindConfiguration ErrKind = "configuration_error"
	KindAuthFailure   ErrKind = "authentication_failure"
)

type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil { return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err) }
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind ErrKind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Ef(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind ErrKind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// KindOf classifies any error; unknown errors count as upstream.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) { return de.Kind }
	return KindUpstream
}

func IsKind(err error, kind ErrKind) bool { return KindOf(err) == kind }

// HTTPStatus maps an error kind onto the portal's response codes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized, KindAuthFailure:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// UserMessage strips wrapped causes so upstream details never leak to the UI.
func UserMessage(err error) string {
	var de *Error
	if errors.As(err, &de) { return de.Msg }
	return "unexpected error"
}
