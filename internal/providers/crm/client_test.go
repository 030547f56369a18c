package crm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientAddNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notes" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-test" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{`"entity_id":"J-1"`, `"entity_type":"job"`, `"pin_to_top":true`} {
			if !strings.Contains(string(body), want) {
				t.Fatalf("missing %s in request: %s", want, string(body))
			}
		}
		_, _ = w.Write([]byte(`{"note":{"id":"n-9","entity_id":"J-1","entity_type":"job","text":"hello","pinned_to_top":true}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "key-test", HTTP: srv.Client()}
	note, err := c.AddNote(context.Background(), "J-1", "job", "hello", true)
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.ID != "n-9" || !note.PinnedToTop {
		t.Fatalf("unexpected note: %+v", note)
	}
}

func TestClientAddNoteErrors(t *testing.T) {
	c := &Client{BaseURL: "https://example.test", APIKey: "", HTTP: http.DefaultClient}
	if _, err := c.AddNote(context.Background(), "J-1", "job", "x", false); err == nil {
		t.Fatal("expected missing api key error")
	}
	c.APIKey = "k"
	if _, err := c.AddNote(context.Background(), "", "job", "x", false); err == nil {
		t.Fatal("expected missing entity id error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"entity does not exist"}`))
	}))
	defer srv.Close()

	c = &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	if _, err := c.AddNote(context.Background(), "J-1", "job", "x", false); err == nil || !strings.Contains(err.Error(), "entity does not exist") {
		t.Fatalf("expected crm api error, got %v", err)
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv2.Close()

	c = &Client{BaseURL: srv2.URL, APIKey: "k", HTTP: srv2.Client()}
	if _, err := c.AddNote(context.Background(), "J-1", "job", "x", false); err == nil {
		t.Fatal("expected missing note error")
	}

	srv3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv3.Close()

	c = &Client{BaseURL: srv3.URL, APIKey: "k", HTTP: srv3.Client()}
	if _, err := c.AddNote(context.Background(), "J-1", "job", "x", false); err == nil {
		t.Fatal("expected decode error")
	}
}
