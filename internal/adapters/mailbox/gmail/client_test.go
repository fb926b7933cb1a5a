package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

type fakeGmail struct {
	mu       sync.Mutex
	queries  []string
	auth     []string
	messages map[string]map[string]interface{}
	order    []string
	status   int
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
		return
	}

	const prefix = "/gmail/v1/users/me/messages"
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == prefix:
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		var list []map[string]string
		for _, id := range f.order {
			list = append(list, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": list})
	case strings.HasPrefix(r.URL.Path, prefix+"/"):
		id := strings.TrimPrefix(r.URL.Path, prefix+"/")
		msg, ok := f.messages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(msg)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func headers(from, subject string) []map[string]string {
	return []map[string]string{
		{"name": "From", "value": from},
		{"name": "Subject", "value": subject},
		{"name": "To", "value": "ops@example.com"},
	}
}

func newFake() *fakeGmail {
	return &fakeGmail{
		order: []string{"m1", "m2", "gone"},
		messages: map[string]map[string]interface{}{
			"m1": {
				"id":           "m1",
				"internalDate": "1738411200000",
				"payload": map[string]interface{}{
					"mimeType": "multipart/alternative",
					"headers":  headers("billing@hubspot.com", "Your HubSpot invoice"),
					"parts": []map[string]interface{}{
						{"mimeType": "text/plain", "body": map[string]string{"data": encode("Total: $450")}},
						{"mimeType": "text/html", "body": map[string]string{"data": encode("<p>ignored</p>")}},
					},
				},
			},
			"m2": {
				"id":           "m2",
				"internalDate": "1738497600000",
				"payload": map[string]interface{}{
					"mimeType": "text/html",
					"headers":  headers("Notion <team@notion.so>", "Receipt"),
					"body":     map[string]string{"data": encode("<html><body><p>Plan</p><p>$8 monthly</p></body></html>")},
				},
			},
		},
	}
}

func TestFetchMessages(t *testing.T) {
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	c := NewClient(Options{Endpoint: ts.URL + "/"}, zap.NewNop())
	since := time.Unix(1735689600, 0)

	msgs, err := c.FetchMessages(context.Background(), "access-1", since)
	if err != nil {
		t.Fatalf("FetchMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (missing message skipped)", len(msgs))
	}

	first := msgs[0]
	if first.ID != "m1" || first.Sender != "billing@hubspot.com" || first.Subject != "Your HubSpot invoice" {
		t.Errorf("first message = %+v", first)
	}
	if first.BodyText != "Total: $450" {
		t.Errorf("plain body = %q, want text/plain part", first.BodyText)
	}
	if !first.ReceivedAt.Equal(time.UnixMilli(1738411200000)) {
		t.Errorf("ReceivedAt = %v", first.ReceivedAt)
	}
	if len(first.Recipients) != 1 || first.Recipients[0] != "ops@example.com" {
		t.Errorf("Recipients = %v", first.Recipients)
	}
	if msgs[1].BodyText != "Plan $8 monthly" {
		t.Errorf("html body = %q", msgs[1].BodyText)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	wantQuery := "invoice OR receipt OR subscription OR payment OR renewal OR trial OR bill OR charge after:1735689600"
	if len(fake.queries) != 1 || fake.queries[0] != wantQuery {
		t.Errorf("queries = %q, want %q", fake.queries, wantQuery)
	}
	for _, a := range fake.auth {
		if a != "Bearer access-1" {
			t.Fatalf("Authorization = %q", a)
		}
	}
}

func TestFetchMessagesCapsResults(t *testing.T) {
	fake := newFake()
	ts := httptest.NewServer(fake)
	defer ts.Close()

	c := NewClient(Options{Endpoint: ts.URL + "/", MaxResults: 1}, zap.NewNop())
	msgs, err := c.FetchMessages(context.Background(), "token", time.Now())
	if err != nil {
		t.Fatalf("FetchMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestFetchMessagesRateLimited(t *testing.T) {
	fake := newFake()
	fake.status = http.StatusTooManyRequests
	ts := httptest.NewServer(fake)
	defer ts.Close()

	c := NewClient(Options{Endpoint: ts.URL + "/"}, zap.NewNop())
	_, err := c.FetchMessages(context.Background(), "token", time.Now())
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("FetchMessages() error = %v, want rate limited", err)
	}
}
