/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package syncmark implements the marker protocol that separates
// portal-visible comments from the tracker's internal discussion. Only
// marked comments cross the boundary, in either direction.
package syncmark

import (
	"regexp"
	"strings"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// Marker tags a tracker comment as portal-visible.
const Marker = "#sync"

var markerRe = regexp.MustCompile(`(?i)#sync\s*`)

// Wrap prepends the marker to an outbound comment body.
func Wrap(body string) string { return Marker + "\n" + strings.TrimSpace(body) }

// Unwrap strips every marker occurrence, case-insensitively, and trims the
// result. Unwrap(Wrap(b)) == b for any already-trimmed body without markers.
func Unwrap(body string) string { return strings.TrimSpace(markerRe.ReplaceAllString(body, "")) }

// IsSynced reports whether the comment body carries the marker anywhere.
func IsSynced(body string) bool { return strings.Contains(strings.ToLower(body), Marker) }

// FilterAndUnwrap keeps only marked comments and returns them with the
// marker stripped, preserving order.
func FilterAndUnwrap(comments []domain.Comment) []domain.Comment {
	out := make([]domain.Comment, 0, len(comments))
	for _, c := range comments {
		if !IsSynced(c.Body) { continue }
		c.Body = Unwrap(c.Body)
		out = append(out, c)
	}
	return out
}

// CanComment rejects posting into terminal workflow states. The check runs
// against a fresh snapshot at post time, never against a cached one.
func CanComment(stateType string) error {
	switch strings.ToLower(stateType) {
	case "completed", "canceled":
		return domain.E(domain.KindValidation, "this ticket is closed and no longer accepts comments")
	}
	return nil
}
