/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// Tracker priorities: 0 means "no priority" and always sinks to the bottom
// of an urgency-ascending sort, below Low.
var priorityLabels = map[int]string{
	0: "No priority",
	1: "Urgent",
	2: "High",
	3: "Medium",
	4: "Low",
}

func PriorityLabel(p *int) string {
	if p == nil { return priorityLabels[0] }
	if label, ok := priorityLabels[*p]; ok { return label }
	return priorityLabels[4]
}

func priorityRank(p *int) int {
	if p == nil || *p == 0 { return 5 }
	return *p
}

// ComparePriority orders two priorities by urgency; asc puts Urgent first
// and "no priority" last in both directions' natural reading.
func ComparePriority(a, b *int, dir domain.SortDirection) int {
	ra, rb := priorityRank(a), priorityRank(b)
	if ra == rb { return 0 }
	less := ra < rb
	if dir == domain.SortDesc { less = !less }
	if less { return -1 }
	return 1
}

// phaseOrder pins workflow states to the portal's fixed phase sequence.
// Teams name their states in Spanish or English; both spellings map to the
// same phase. Unknown names go last.
var phaseOrder = map[string]int{
	"nuevo":       0,
	"new":         0,
	"planned":     1,
	"planeado":    1,
	"en progreso": 2,
	"in progress": 2,
	"escalado":    3,
	"escalated":   3,
	"resuelto":    4,
	"resolved":    4,
	"cerrado":     5,
	"closed":      5,
	"cancelado":   6,
	"canceled":    6,
}

const unknownPhase = 999

// normalizeStateName lowercases and strips accents so "Planeación" and
// "planeacion" compare equal.
func normalizeStateName(name string) string {
	decomposed := norm.NFD.String(strings.ToLower(strings.TrimSpace(name)))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) { continue }
		b.WriteRune(r)
	}
	return b.String()
}

func statePhase(name string) int {
	if p, ok := phaseOrder[normalizeStateName(name)]; ok { return p }
	return unknownPhase
}

// OrderWorkflowStates returns the states sorted by phase, name as tiebreak.
func OrderWorkflowStates(states []domain.WorkflowState) []domain.WorkflowState {
	out := make([]domain.WorkflowState, len(states))
	copy(out, states)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := statePhase(out[i].Name), statePhase(out[j].Name)
		if pi != pj { return pi < pj }
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify builds the stable identity key for release tags.
func Slugify(name string) string {
	s := normalizeStateName(name)
	s = nonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
