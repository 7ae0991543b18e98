/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/luisson10/conbiz-ticket-support/internal/repo"
)

func ts(m int) time.Time { return time.Date(2025, 6, 1, 12, m, 0, 0, time.UTC) }

func tsp(m int) *time.Time {
	t := ts(m)
	return &t
}

func adminAuth() domain.AuthContext { return domain.AuthContext{UserID: "admin", Role: domain.RoleAdmin} }

func userAuth(account string) domain.AuthContext {
	return domain.AuthContext{UserID: "u1", Role: domain.RoleUser, AccountID: account}
}

func TestCanViewRelease(t *testing.T) {
	cases := []struct {
		name     string
		auth     domain.AuthContext
		status   domain.ReleaseStatus
		accounts []string
		want     bool
	}{
		{"admin sees drafts", adminAuth(), domain.ReleaseDraft, nil, true},
		{"admin sees published outside own account", adminAuth(), domain.ReleasePublished, []string{"other"}, true},
		{"user never sees drafts even with account match", userAuth("acc-a"), domain.ReleaseDraft, []string{"acc-a"}, false},
		{"user sees published scoped to own account", userAuth("acc-a"), domain.ReleasePublished, []string{"acc-a", "acc-b"}, true},
		{"user blocked from published of other account", userAuth("acc-b"), domain.ReleasePublished, []string{"acc-a"}, false},
		{"user blocked from unscoped published", userAuth("acc-a"), domain.ReleasePublished, nil, false},
	}
	for _, c := range cases {
		if got := CanViewRelease(c.auth, c.status, c.accounts); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

// fakeReleaseStore reimplements the keyset query over a slice so the
// timeline math can be exercised without a database.
type fakeReleaseStore struct {
	ReleaseStore
	releases []domain.Release
}

func (f *fakeReleaseStore) ListReleases(_ context.Context, q repo.ReleaseQuery) ([]domain.Release, bool, error) {
	matched := []domain.Release{}
	for _, r := range f.releases {
		if !q.AdminView {
			if r.Status != domain.ReleasePublished { continue }
			ok := false
			for _, id := range r.AccountIDs() {
				if id == q.AccountID { ok = true }
			}
			if !ok { continue }
		}
		if q.Status != nil && r.Status != *q.Status { continue }
		if q.Cursor != nil {
			if r.PublishedAt != nil {
				if !r.PublishedAt.Before(*q.Cursor) { continue }
			} else if !r.CreatedAt.Before(*q.Cursor) { continue }
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return cursorOf(matched[i]).After(cursorOf(matched[j])) })
	hasNext := len(matched) > q.Limit
	if hasNext { matched = matched[:q.Limit] }
	return matched, hasNext, nil
}

func rel(id string, status domain.ReleaseStatus, publishedMin int, createdMin int, accounts ...string) domain.Release {
	r := domain.Release{ID: id, Title: id, Status: status, CreatedAt: ts(createdMin)}
	if status == domain.ReleasePublished { r.PublishedAt = tsp(publishedMin) }
	for _, a := range accounts { r.Accounts = append(r.Accounts, domain.Account{ID: a}) }
	return r
}

func newTimelineService(store *fakeReleaseStore) *ReleaseService {
	return NewReleaseService(store, nil, 2, 50, zerolog.Nop())
}

func TestTimelineInterleavesDraftsAndPublished(t *testing.T) {
	store := &fakeReleaseStore{releases: []domain.Release{
		rel("r1", domain.ReleasePublished, 10, 1, "acc-a"),
		rel("r2", domain.ReleaseDraft, 0, 8),
		rel("r3", domain.ReleasePublished, 5, 2, "acc-a"),
		rel("r4", domain.ReleaseDraft, 0, 3),
	}}
	svc := newTimelineService(store)

	var seen []string
	var cursor *time.Time
	for {
		page, err := svc.Timeline(context.Background(), adminAuth(), TimelineQuery{Cursor: cursor, Limit: 2})
		if err != nil { t.Fatal(err) }
		for _, r := range page.Items { seen = append(seen, r.ID) }
		if !page.HasNext { break }
		cursor = page.NextCursor
	}
	want := []string{"r1", "r2", "r3", "r4"}
	if len(seen) != len(want) { t.Fatalf("got %v, want %v", seen, want) }
	for i := range want {
		if seen[i] != want[i] { t.Fatalf("got %v, want %v", seen, want) }
	}
}

func TestTimelineStableUnderConcurrentInsert(t *testing.T) {
	store := &fakeReleaseStore{releases: []domain.Release{
		rel("r1", domain.ReleasePublished, 10, 1, "acc-a"),
		rel("r2", domain.ReleasePublished, 8, 1, "acc-a"),
		rel("r3", domain.ReleasePublished, 6, 1, "acc-a"),
		rel("r4", domain.ReleasePublished, 4, 1, "acc-a"),
	}}
	svc := newTimelineService(store)

	first, err := svc.Timeline(context.Background(), userAuth("acc-a"), TimelineQuery{Limit: 2})
	if err != nil { t.Fatal(err) }
	if len(first.Items) != 2 || !first.HasNext { t.Fatalf("unexpected first page %+v", first) }

	// A newer release lands between the two fetches.
	store.releases = append(store.releases, rel("r0", domain.ReleasePublished, 12, 1, "acc-a"))

	second, err := svc.Timeline(context.Background(), userAuth("acc-a"), TimelineQuery{Cursor: first.NextCursor, Limit: 2})
	if err != nil { t.Fatal(err) }

	got := map[string]bool{}
	for _, r := range append(first.Items, second.Items...) {
		if got[r.ID] { t.Fatalf("duplicate item %s across pages", r.ID) }
		got[r.ID] = true
	}
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		if !got[id] { t.Fatalf("item %s omitted after concurrent insert", id) }
	}
}

func TestTimelineHidesDraftsFromUsers(t *testing.T) {
	store := &fakeReleaseStore{releases: []domain.Release{
		rel("d1", domain.ReleaseDraft, 0, 9, "acc-a"),
		rel("p1", domain.ReleasePublished, 5, 1, "acc-a"),
	}}
	svc := newTimelineService(store)

	page, err := svc.Timeline(context.Background(), userAuth("acc-a"), TimelineQuery{Limit: 10})
	if err != nil { t.Fatal(err) }
	if len(page.Items) != 1 || page.Items[0].ID != "p1" { t.Fatalf("drafts leaked to user: %+v", page.Items) }
}

func TestCreateDraftValidation(t *testing.T) {
	svc := newTimelineService(&fakeReleaseStore{})

	if _, err := svc.CreateDraft(context.Background(), userAuth("acc-a"), ReleaseInput{Title: "v1"}); !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("non-admin create should be forbidden, got %v", err)
	}
	if _, err := svc.CreateDraft(context.Background(), adminAuth(), ReleaseInput{Title: "   "}); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("empty title should be a validation error, got %v", err)
	}
}
