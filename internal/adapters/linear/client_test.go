/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package linear

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

func testClient(url string) *Client {
	cfg := config.Config{LinearAPIURL: url, LinearAPIKey: "lin_api_test", LinearFileURLExpiry: 300, HTTPTimeout: 5 * time.Second}
	return NewClient(cfg, zerolog.Nop())
}

func TestDoGraphQLRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if got := r.Header.Get("Authorization"); got != "lin_api_test" { t.Errorf("unexpected auth header %q", got) }
		if got := r.Header.Get("public-file-urls-expire-in"); got != "300" { t.Errorf("unexpected expiry header %q", got) }
		w.Write([]byte(`{"data":{"viewer":{"name":"bot","email":"bot@example.com"}}}`))
	}))
	defer srv.Close()

	viewer, err := testClient(srv.URL).CheckConnection(context.Background())
	if err != nil { t.Fatal(err) }
	if viewer.Name != "bot" { t.Fatalf("unexpected viewer %+v", viewer) }
	if calls != 3 { t.Fatalf("expected 3 attempts, got %d", calls) }
}

func TestDoGraphQLDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CheckConnection(context.Background())
	if err == nil { t.Fatal("expected error") }
	if !domain.IsKind(err, domain.KindUpstream) { t.Fatalf("wrong kind: %v", domain.KindOf(err)) }
	if calls != 1 { t.Fatalf("4xx must not retry, got %d attempts", calls) }
}

func TestDoGraphQLSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Entity not found"}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CheckConnection(context.Background())
	if err == nil { t.Fatal("expected error from errors array") }
	if !domain.IsKind(err, domain.KindUpstream) { t.Fatalf("wrong kind: %v", domain.KindOf(err)) }
}

func TestListIssuesDecodesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"issues":{
            "nodes":[{
                "id":"iss-1","identifier":"SUP-1","title":"login roto",
                "priority":2,"updatedAt":"2025-06-01T12:10:00.000Z",
                "state":{"id":"s1","name":"En Progreso","type":"started","color":"#f2c94c"},
                "assignee":{"name":"Ana"},"project":{"name":"Portal"}
            }],
            "pageInfo":{"hasNextPage":true,"endCursor":"cur-2"}
        }}}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).ListIssues(context.Background(), Filter{TeamID: "team-1"}, 50, "")
	if err != nil { t.Fatal(err) }
	if len(page.Nodes) != 1 { t.Fatalf("expected 1 node, got %d", len(page.Nodes)) }
	n := page.Nodes[0]
	if n.Identifier != "SUP-1" || n.AssigneeName != "Ana" || n.ProjectName != "Portal" { t.Fatalf("bad decode: %+v", n) }
	if n.State == nil || n.State.Type != "started" { t.Fatalf("state not decoded: %+v", n.State) }
	if n.Priority == nil || *n.Priority != 2 { t.Fatalf("priority not decoded: %+v", n.Priority) }
	if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor != "cur-2" { t.Fatalf("page info not decoded: %+v", page.PageInfo) }
}

func TestValidationBeforeRequest(t *testing.T) {
	c := testClient("http://127.0.0.1:0")
	if _, err := c.ListIssues(context.Background(), Filter{}, 10, ""); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("empty team id should fail validation, got %v", err)
	}
	if _, err := c.Issue(context.Background(), ""); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("empty issue id should fail validation, got %v", err)
	}
}
