package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"clip_bot/internal/links"
	"clip_bot/internal/model"
	"clip_bot/internal/note"
)

type fakeVault struct {
	mu       sync.Mutex
	down     bool
	writeErr error
	probes   int
	writes   []model.Note
}

func (f *fakeVault) Probe(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return !f.down
}

func (f *fakeVault) WriteNote(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, model.Note{Path: path, Content: content})
	return f.writeErr
}

type fakeExtractor struct {
	mu       sync.Mutex
	clips    map[string]*model.ClipResult
	errs     map[string]error
	calls    []string
	inFlight int
	overlap  bool
	delay    time.Duration
	// entered and release, when set, hold Extract until the test lets go.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (*model.ClipResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if c, ok := f.clips[url]; ok {
		cp := *c
		return &cp, nil
	}
	return &model.ClipResult{Title: "Page", Content: "body", URL: url}, nil
}

type fakeReactor struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakeReactor) SelfID() string { return "bot" }

func (f *fakeReactor) AddReaction(_ context.Context, _ model.InboundMessage, m model.Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "add "+string(m))
	return f.err
}

func (f *fakeReactor) RemoveReaction(_ context.Context, _ model.InboundMessage, m model.Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "remove "+string(m))
	return f.err
}

func (f *fakeReactor) Reply(_ context.Context, _ model.InboundMessage, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "reply "+text)
	return f.err
}

type fakeJournal struct {
	mu      sync.Mutex
	records []model.ClipRecord
	err     error
}

func (f *fakeJournal) RecordClip(_ context.Context, rec *model.ClipRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

type fixture struct {
	vault     *fakeVault
	extractor *fakeExtractor
	reactor   *fakeReactor
	journal   *fakeJournal
	pipeline  *Pipeline
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		vault:     &fakeVault{},
		extractor: &fakeExtractor{clips: map[string]*model.ClipResult{}, errs: map[string]error{}},
		reactor:   &fakeReactor{},
		journal:   &fakeJournal{},
	}
	if opts.Folder == "" {
		opts.Folder = "Clippings/"
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = New(f.vault, f.extractor, f.journal, f.reactor, opts, log)
	return f
}

func message(body string) model.InboundMessage {
	return model.InboundMessage{ID: "m1", ChannelID: "c1", AuthorID: "u1", Body: body}
}

func TestProcessWithoutURLs(t *testing.T) {
	f := newFixture(t, Options{})

	_, handled := f.pipeline.Process(context.Background(), message("just chatting, see example.com"))
	if handled {
		t.Error("expected message without URLs to be ignored")
	}
	if len(f.reactor.events) != 0 {
		t.Errorf("expected no reactions, got %v", f.reactor.events)
	}
	if f.vault.probes != 0 || len(f.extractor.calls) != 0 {
		t.Errorf("expected no network activity, got %d probes and %d extractions", f.vault.probes, len(f.extractor.calls))
	}
}

func TestProcessVaultUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	f.vault.down = true

	outcome, handled := f.pipeline.Process(context.Background(), message("https://a.example https://b.example"))
	if !handled {
		t.Fatal("expected message to be handled")
	}
	if diff := cmp.Diff(model.OutcomeError, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, f.vault.probes); diff != "" {
		t.Errorf("probes mismatch (-want +got):\n%s", diff)
	}
	if len(f.extractor.calls) != 0 {
		t.Errorf("expected no extractions, got %v", f.extractor.calls)
	}
	want := []string{
		"add processing",
		"remove processing",
		"add error",
		"reply " + VaultErrorReply,
	}
	if diff := cmp.Diff(want, f.reactor.events); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSuccessAndErrorClip(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.clips["https://ok.example/a"] = &model.ClipResult{Title: "Good", Content: "body", URL: "https://ok.example/a"}
	f.extractor.clips["https://bad.example/b"] = &model.ClipResult{
		Title:   "Error clipping: https://bad.example/b",
		Content: "# Clip Error",
		URL:     "https://bad.example/b",
		IsError: true,
	}

	outcome, _ := f.pipeline.Process(context.Background(), message("https://ok.example/a and https://bad.example/b"))
	if diff := cmp.Diff(model.OutcomeWarning, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, len(f.vault.writes)); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(f.vault.writes[1].Content, "error: true") {
		t.Errorf("error note missing flag:\n%s", f.vault.writes[1].Content)
	}
	want := []string{"add processing", "remove processing", "add warning"}
	if diff := cmp.Diff(want, f.reactor.events); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessTwoURLsDistinctPaths(t *testing.T) {
	f := newFixture(t, Options{})
	fixed := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time { return fixed }
	f.extractor.clips["https://x.example/1"] = &model.ClipResult{Title: "Same Title", Content: "one", URL: "https://x.example/1"}
	f.extractor.clips["https://x.example/2"] = &model.ClipResult{Title: "Same Title", Content: "two", URL: "https://x.example/2"}

	outcome, _ := f.pipeline.Process(context.Background(), message("https://x.example/1\nhttps://x.example/2"))
	if diff := cmp.Diff(model.OutcomeSuccess, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, len(f.vault.writes)); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	a, b := f.vault.writes[0].Path, f.vault.writes[1].Path
	if a == b {
		t.Errorf("both notes written to %q", a)
	}
	for _, p := range []string{a, b} {
		if !strings.HasPrefix(p, "Clippings/Same Title_") || !strings.HasSuffix(p, ".md") {
			t.Errorf("unexpected path %q", p)
		}
	}
	want := []string{"add processing", "remove processing", "add success"}
	if diff := cmp.Diff(want, f.reactor.events); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessExtractionErrorIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.errs["https://a.example"] = errors.New("launch browser: no chrome")

	outcome, _ := f.pipeline.Process(context.Background(), message("https://a.example https://b.example"))
	if diff := cmp.Diff(model.OutcomeError, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, f.extractor.calls); diff != "" {
		t.Errorf("extractions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(f.vault.writes)); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessWriteFailureStops(t *testing.T) {
	f := newFixture(t, Options{})
	f.vault.writeErr = errors.New("connection refused")

	outcome, _ := f.pipeline.Process(context.Background(), message("https://a.example https://b.example"))
	if diff := cmp.Diff(model.OutcomeError, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://a.example"}, f.extractor.calls); diff != "" {
		t.Errorf("extractions mismatch (-want +got):\n%s", diff)
	}
	if len(f.journal.records) != 0 {
		t.Errorf("expected nothing journaled, got %v", f.journal.records)
	}
}

func TestProcessExcludedURLs(t *testing.T) {
	rules, err := links.NewRules([]string{`tenor\.com`})
	if err != nil {
		t.Fatalf("NewRules: %v", err)
	}
	f := newFixture(t, Options{Rules: rules})

	if _, handled := f.pipeline.Process(context.Background(), message("https://tenor.com/view/cat")); handled {
		t.Error("expected message with only excluded URLs to be ignored")
	}

	f.pipeline.Process(context.Background(), message("https://tenor.com/view/cat https://keep.example"))
	if diff := cmp.Diff([]string{"https://keep.example"}, f.extractor.calls); diff != "" {
		t.Errorf("extractions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessReactionFailuresDoNotChangeOutcome(t *testing.T) {
	f := newFixture(t, Options{})
	f.reactor.err = errors.New("missing permissions")

	outcome, handled := f.pipeline.Process(context.Background(), message("https://a.example"))
	if !handled {
		t.Fatal("expected message to be handled")
	}
	if diff := cmp.Diff(model.OutcomeSuccess, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(f.vault.writes)); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessJournal(t *testing.T) {
	f := newFixture(t, Options{Folder: "Inbox/"})
	f.extractor.clips["https://sho.rt/x"] = &model.ClipResult{Title: "Long", Content: "c", URL: "https://example.com/long"}

	f.pipeline.Process(context.Background(), message("https://sho.rt/x"))
	if diff := cmp.Diff(1, len(f.journal.records)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	rec := f.journal.records[0]
	got := []string{rec.MessageID, rec.ChannelID, rec.URL, rec.ResolvedURL, rec.Title, rec.Outcome.String()}
	want := []string{"m1", "c1", "https://sho.rt/x", "https://example.com/long", "Long", "success"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f.vault.writes[0].Path, rec.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(rec.Path, "Inbox/Long_") {
		t.Errorf("path = %q", rec.Path)
	}
}

func TestProcessJournalFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.journal.err = errors.New("disk full")

	outcome, _ := f.pipeline.Process(context.Background(), message("https://a.example"))
	if diff := cmp.Diff(model.OutcomeSuccess, outcome); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSerializesMessages(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := message("https://a.example https://b.example")
			msg.ID = fmt.Sprintf("m%d", i)
			f.pipeline.Process(context.Background(), msg)
		}()
	}
	wg.Wait()

	if f.extractor.overlap {
		t.Error("extractions from different messages overlapped")
	}
	if diff := cmp.Diff(8, len(f.vault.writes)); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	seen := map[string]bool{}
	for _, n := range f.vault.writes {
		if seen[n.Path] {
			t.Errorf("duplicate path %q", n.Path)
		}
		seen[n.Path] = true
	}
}

func TestProcessSkipsMessageAlreadyTaken(t *testing.T) {
	f := newFixture(t, Options{})
	f.extractor.entered = make(chan struct{})
	f.extractor.release = make(chan struct{})
	msg := message("https://a.example")

	live := make(chan bool, 1)
	go func() {
		_, handled := f.pipeline.Process(context.Background(), msg)
		live <- handled
	}()
	<-f.extractor.entered

	// A second delivery of the same message waits on the live one.
	again := make(chan bool, 1)
	go func() {
		_, handled := f.pipeline.Process(context.Background(), msg)
		again <- handled
	}()
	close(f.extractor.release)

	if !<-live {
		t.Error("expected live message to be handled")
	}
	if <-again {
		t.Error("expected second delivery to be skipped")
	}
	if diff := cmp.Diff(1, len(f.vault.writes)); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	want := []string{"add processing", "remove processing", "add success"}
	if diff := cmp.Diff(want, f.reactor.events); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}

	// Later deliveries are skipped too.
	if _, handled := f.pipeline.Process(context.Background(), msg); handled {
		t.Error("expected processed message to be skipped")
	}
}

func TestClipURLAvoidsUsedPath(t *testing.T) {
	f := newFixture(t, Options{})
	fixed := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time { return fixed }

	clip := &model.ClipResult{Title: "Page", Content: "body", URL: "https://a.example"}
	taken, err := note.Build("Clippings/", clip, note.Source{URL: "https://a.example", At: fixed})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f.pipeline.paths[taken.Path] = true

	rec, err := f.pipeline.ClipURL(context.Background(), "https://a.example")
	if err != nil {
		t.Fatalf("ClipURL: %v", err)
	}
	if rec.Path == taken.Path {
		t.Errorf("note written over used path %q", rec.Path)
	}
	want, err := note.Build("Clippings/", clip, note.Source{URL: "https://a.example", At: fixed.Add(time.Nanosecond)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff(want.Path, rec.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestClipURL(t *testing.T) {
	f := newFixture(t, Options{})

	rec, err := f.pipeline.ClipURL(context.Background(), "https://a.example")
	if err != nil {
		t.Fatalf("ClipURL: %v", err)
	}
	if !strings.HasPrefix(rec.Path, "Clippings/Page_") {
		t.Errorf("path = %q", rec.Path)
	}
	if len(f.reactor.events) != 0 {
		t.Errorf("expected no reactions, got %v", f.reactor.events)
	}

	f.vault.down = true
	if _, err := f.pipeline.ClipURL(context.Background(), "https://a.example"); !errors.Is(err, ErrVaultUnavailable) {
		t.Errorf("expected ErrVaultUnavailable, got %v", err)
	}
}

func TestIsProcessedByBot(t *testing.T) {
	tests := []struct {
		name      string
		reactions []model.Reaction
		selfID    string
		want      bool
	}{
		{name: "no reactions", want: false, selfID: "bot"},
		{
			name:      "own success",
			reactions: []model.Reaction{{Emoji: "✅", UserID: "bot"}},
			selfID:    "bot",
			want:      true,
		},
		{
			name:      "own warning without variation selector",
			reactions: []model.Reaction{{Emoji: "⚠", UserID: "bot"}},
			selfID:    "bot",
			want:      true,
		},
		{
			name:      "own error",
			reactions: []model.Reaction{{Emoji: "❌", UserID: "bot"}},
			selfID:    "bot",
			want:      true,
		},
		{
			name:      "processing only",
			reactions: []model.Reaction{{Emoji: "⏳", UserID: "bot"}},
			selfID:    "bot",
			want:      false,
		},
		{
			name:      "someone else marked it",
			reactions: []model.Reaction{{Emoji: "✅", UserID: "alice"}},
			selfID:    "bot",
			want:      false,
		},
		{
			name:      "unrelated emoji",
			reactions: []model.Reaction{{Emoji: "🎉", UserID: "bot"}},
			selfID:    "bot",
			want:      false,
		},
		{
			name:      "unknown self",
			reactions: []model.Reaction{{Emoji: "✅", UserID: ""}},
			selfID:    "",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := model.InboundMessage{Reactions: tt.reactions}
			if diff := cmp.Diff(tt.want, IsProcessedByBot(msg, tt.selfID)); diff != "" {
				t.Errorf("IsProcessedByBot() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
