package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
)

type fakeAPI struct {
	mu       sync.Mutex
	status   int
	received []Entry
}

func (f *fakeAPI) setStatus(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/checkin":
		var e Entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.received = append(f.received, e)
		w.WriteHeader(f.status)
	case "/api/progress":
		if r.URL.Query().Get("email") != "ada@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Progress{Visited: []string{"west-end", "midtown"}, Total: 16})
	case "/api/upload-photo":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"photoUrl":"https://cdn.example.com/p.jpg"}`))
	case "/api/leaderboard":
		_, _ = w.Write([]byte(`{"leaders":[{"first_name":"Ada","count":9}],"locationStats":[{"location_id":"west-end","count":41}]}`))
	case "/api/submit":
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Not all locations captured","captured":3,"required":16}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, api *fakeAPI, store Store) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api"}, store, nil)
}

var entry = Entry{Email: "ada@example.com", FirstName: "Ada", LocationID: "piedmont-park", Format: "portrait", Phase: "group_stage"}

func TestCheckInSuccessAndConflict(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusConflict} {
		api := &fakeAPI{status: status}
		store := NewMemoryStore()
		c := newTestClient(t, api, store)

		res, err := c.CheckIn(context.Background(), entry)
		if err != nil {
			t.Fatalf("status %d: checkin: %v", status, err)
		}
		if res.Queued {
			t.Fatalf("status %d: expected delivered checkin", status)
		}
		pending, _ := store.Pending(context.Background())
		if len(pending) != 0 {
			t.Fatalf("status %d: expected empty queue, got %d", status, len(pending))
		}
		if len(api.received) != 1 || api.received[0] != entry {
			t.Fatalf("status %d: unexpected payload %+v", status, api.received)
		}
	}
}

func TestCheckInQueuesAndFlushes(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError}
	store := NewMemoryStore()
	c := newTestClient(t, api, store)
	ctx := context.Background()

	res, err := c.CheckIn(ctx, entry)
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Queued {
		t.Fatalf("expected queued checkin")
	}

	progress, err := c.CachedProgress(ctx)
	if err != nil {
		t.Fatalf("cached progress: %v", err)
	}
	if !slices.Equal(progress.Visited, []string{"piedmont-park"}) {
		t.Fatalf("expected optimistic progress, got %v", progress.Visited)
	}
	visitor, ok, err := c.CachedVisitor(ctx)
	if err != nil || !ok || visitor.FirstName != "Ada" {
		t.Fatalf("expected cached visitor, got %+v ok=%v err=%v", visitor, ok, err)
	}

	remaining, err := c.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected entry to stay queued, remaining=%d", remaining)
	}

	api.setStatus(http.StatusConflict)
	remaining, err = c.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected queue drained, remaining=%d", remaining)
	}
}

func TestCheckInNetworkFailureQueues(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1/api"}, nil, nil)
	res, err := c.CheckIn(context.Background(), entry)
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Queued {
		t.Fatalf("expected queued checkin on network failure")
	}
}

func TestProgressMergesWithCache(t *testing.T) {
	api := &fakeAPI{status: http.StatusCreated}
	store := NewMemoryStore()
	_ = store.MarkVisited(context.Background(), "piedmont-park", "west-end")
	c := newTestClient(t, api, store)

	p, err := c.Progress(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 16 {
		t.Fatalf("expected total 16, got %d", p.Total)
	}
	want := []string{"west-end", "midtown", "piedmont-park"}
	if !slices.Equal(p.Visited, want) {
		t.Fatalf("expected %v, got %v", want, p.Visited)
	}
}

func TestProgressOfflineUsesCache(t *testing.T) {
	store := NewMemoryStore()
	_ = store.MarkVisited(context.Background(), "midtown")
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1/api"}, store, nil)

	p, err := c.Progress(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !slices.Equal(p.Visited, []string{"midtown"}) {
		t.Fatalf("unexpected cached progress %v", p.Visited)
	}
}

func TestUploadAndSubmit(t *testing.T) {
	c := newTestClient(t, &fakeAPI{status: http.StatusCreated}, nil)

	photoURL, err := c.UploadPhoto(context.Background(), "ada@example.com", "midtown", "data:image/jpeg;base64,AAAA")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if photoURL != "https://cdn.example.com/p.jpg" {
		t.Fatalf("unexpected photo url %s", photoURL)
	}

	_, err = c.SubmitForReview(context.Background(), "ada@example.com")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestLeaderboard(t *testing.T) {
	c := newTestClient(t, &fakeAPI{status: http.StatusOK}, nil)
	board := c.Leaderboard(context.Background())
	if len(board.Leaders) != 1 || board.Leaders[0].FirstName != "Ada" || board.Leaders[0].Count != 9 {
		t.Fatalf("unexpected leaders %+v", board.Leaders)
	}
	if len(board.LocationStats) != 1 || board.LocationStats[0].LocationID != "west-end" {
		t.Fatalf("unexpected location stats %+v", board.LocationStats)
	}

	offline := NewClient(Config{BaseURL: "http://127.0.0.1:1/api"}, nil, nil)
	empty := offline.Leaderboard(context.Background())
	if empty.Leaders == nil || len(empty.Leaders) != 0 || empty.LocationStats == nil {
		t.Fatalf("expected empty non-nil board offline, got %+v", empty)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "booth.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Visitor(ctx); err != nil || ok {
		t.Fatalf("expected no visitor, ok=%v err=%v", ok, err)
	}
	if err := store.SaveVisitor(ctx, Visitor{Email: "a@b.c", FirstName: "A"}); err != nil {
		t.Fatalf("save visitor: %v", err)
	}
	if err := store.SaveVisitor(ctx, Visitor{Email: "a@b.c", FirstName: "Ada"}); err != nil {
		t.Fatalf("update visitor: %v", err)
	}
	v, ok, err := store.Visitor(ctx)
	if err != nil || !ok || v.FirstName != "Ada" {
		t.Fatalf("unexpected visitor %+v ok=%v err=%v", v, ok, err)
	}

	if err := store.MarkVisited(ctx, "b", "a", "b"); err != nil {
		t.Fatalf("mark visited: %v", err)
	}
	visited, err := store.Visited(ctx)
	if err != nil || !slices.Equal(visited, []string{"b", "a"}) {
		t.Fatalf("unexpected visited %v err=%v", visited, err)
	}

	for _, loc := range []string{"x", "y", "z"} {
		e := entry
		e.LocationID = loc
		if err := store.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	pending, err := store.Pending(ctx)
	if err != nil || len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d err=%v", len(pending), err)
	}
	if err := store.Remove(ctx, pending[0].ID, pending[2].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	pending, err = store.Pending(ctx)
	if err != nil || len(pending) != 1 || pending[0].Entry.LocationID != "y" {
		t.Fatalf("unexpected pending after remove %+v err=%v", pending, err)
	}
}
