package vault

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type failingClient struct{}

func (failingClient) Do(_ *http.Request) (*http.Response, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "ok", status: http.StatusOK, want: true},
		{name: "no content", status: http.StatusNoContent, want: true},
		{name: "unauthorized", status: http.StatusUnauthorized, want: false},
		{name: "server error", status: http.StatusInternalServerError, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(srv.Client(), srv.URL, "key")
			if diff := cmp.Diff(tt.want, c.Probe(context.Background())); diff != "" {
				t.Errorf("Probe() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProbeNetworkError(t *testing.T) {
	c := New(failingClient{}, "http://127.0.0.1:27123", "key")
	if c.Probe(context.Background()) {
		t.Error("Probe() = true on network error")
	}
}

func TestWriteNote(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL+"/", "secret")
	err := c.WriteNote(context.Background(), "Clippings/Hello World_abc123.md", "---\ntitle: x\n---\n\nbody\n")
	if err != nil {
		t.Fatalf("WriteNote: %v", err)
	}

	want := []string{
		http.MethodPut,
		"/vault/Clippings/Hello%20World_abc123.md",
		"Bearer secret",
		"text/markdown",
		"---\ntitle: x\n---\n\nbody\n",
	}
	got := []string{gotMethod, gotPath, gotAuth, gotType, gotBody}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteNoteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "bad token\n")
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "wrong")
	err := c.WriteNote(context.Background(), "a.md", "x")

	var vErr *VaultError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *VaultError, got %v", err)
	}
	if diff := cmp.Diff(&VaultError{Status: http.StatusUnauthorized, Body: "bad token"}, vErr); diff != "" {
		t.Errorf("VaultError mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteNoteNetworkError(t *testing.T) {
	c := New(failingClient{}, "http://127.0.0.1:27123/", "key")
	err := c.WriteNote(context.Background(), "a.md", "x")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "note.md", want: "note.md"},
		{in: "Clippings/A B.md", want: "Clippings/A%20B.md"},
		{in: "Clippings/Title - Site?_1a2b3c.md", want: "Clippings/Title%20-%20Site%3F_1a2b3c.md"},
		{in: "a/b/c#d.md", want: "a/b/c%23d.md"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, EscapePath(tt.in)); diff != "" {
				t.Errorf("EscapePath() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
