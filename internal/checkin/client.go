package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrUploadFailed = errors.New("photo upload failed")
	ErrRejected     = errors.New("submission rejected")
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Result reports how a check-in was recorded. A check-in always succeeds from
// the visitor's point of view; Queued means delivery is deferred to Flush.
type Result struct {
	Queued bool
}

type Leader struct {
	FirstName string `json:"first_name"`
	Count     int    `json:"count"`
}

type LocationStat struct {
	LocationID string `json:"location_id"`
	Count      int    `json:"count"`
}

type Leaderboard struct {
	Leaders       []Leader       `json:"leaders"`
	LocationStats []LocationStat `json:"locationStats"`
}

// Client talks to the campaign check-in API and keeps a local cache so the
// booth keeps working offline.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      Store
	logger     *log.Logger
}

func NewClient(cfg Config, store Store, logger *log.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logger,
	}
}

// CheckIn records a visit. Local progress and the visitor are updated before
// the request is sent. Server errors and network failures queue the entry.
func (c *Client) CheckIn(ctx context.Context, e Entry) (Result, error) {
	if err := c.store.MarkVisited(ctx, e.LocationID); err != nil {
		return Result{}, err
	}
	if err := c.store.SaveVisitor(ctx, Visitor{Email: e.Email, FirstName: e.FirstName}); err != nil {
		return Result{}, err
	}

	if err := c.post(ctx, e); err != nil {
		c.logger.Printf("checkin queued location=%s err=%v", e.LocationID, err)
		if qerr := c.store.Enqueue(ctx, e); qerr != nil {
			return Result{}, qerr
		}
		return Result{Queued: true}, nil
	}
	return Result{}, nil
}

// Flush replays the retry queue and returns how many entries remain queued.
func (c *Client) Flush(ctx context.Context) (int, error) {
	pending, err := c.store.Pending(ctx)
	if err != nil {
		return 0, err
	}

	var delivered []int64
	for _, q := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := c.post(ctx, q.Entry); err != nil {
			c.logger.Printf("checkin retry failed id=%d location=%s err=%v", q.ID, q.Entry.LocationID, err)
			continue
		}
		delivered = append(delivered, q.ID)
	}

	if err := c.store.Remove(ctx, delivered...); err != nil {
		return 0, err
	}
	return len(pending) - len(delivered), nil
}

// post sends one check-in. 409 means the visit was already recorded and counts
// as delivered.
func (c *Client) post(ctx context.Context, e Entry) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/checkin", e)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("checkin returned status=%d", resp.StatusCode)
}

// Progress fetches the visitor's progress and merges it with the local cache.
// When the server cannot be reached the cached progress is returned.
func (c *Client) Progress(ctx context.Context, email string) (Progress, error) {
	remote, err := c.fetchProgress(ctx, email)
	if err != nil {
		c.logger.Printf("progress offline err=%v", err)
		return c.CachedProgress(ctx)
	}

	if err := c.store.MarkVisited(ctx, remote.Visited...); err != nil {
		return Progress{}, err
	}
	local, err := c.store.Visited(ctx)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Visited: mergeVisited(remote.Visited, local), Total: remote.Total}, nil
}

func (c *Client) fetchProgress(ctx context.Context, email string) (Progress, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/progress?email="+url.QueryEscape(email), nil)
	if err != nil {
		return Progress{}, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return Progress{}, fmt.Errorf("progress returned status=%d", resp.StatusCode)
	}
	var p Progress
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

// mergeVisited returns the union of a and b, keeping first-seen order.
func mergeVisited(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, slug := range list {
			if _, ok := seen[slug]; ok {
				continue
			}
			seen[slug] = struct{}{}
			out = append(out, slug)
		}
	}
	return out
}

func (c *Client) CachedProgress(ctx context.Context) (Progress, error) {
	visited, err := c.store.Visited(ctx)
	if err != nil {
		return Progress{}, err
	}
	if visited == nil {
		visited = []string{}
	}
	return Progress{Visited: visited}, nil
}

func (c *Client) CachedVisitor(ctx context.Context) (Visitor, bool, error) {
	return c.store.Visitor(ctx)
}

// UploadPhoto sends a base64 JPEG data URL and returns the stored photo URL.
func (c *Client) UploadPhoto(ctx context.Context, email, locationID, imageData string) (string, error) {
	body := map[string]string{"email": email, "locationId": locationID, "imageData": imageData}
	resp, err := c.doJSON(ctx, http.MethodPost, "/upload-photo", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("%w: status=%d", ErrUploadFailed, resp.StatusCode)
	}
	var out struct {
		PhotoURL string `json:"photoUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.PhotoURL, nil
}

// SubmitForReview asks the campaign to review a completed collection and
// returns the submission id. Server-side refusals wrap ErrRejected with the
// server's message.
func (c *Client) SubmitForReview(ctx context.Context, email string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/submit", map[string]string{"email": email})
	if err != nil {
		return "", fmt.Errorf("submit for review: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		SubmissionID json.RawMessage `json:"submissionId"`
		Error        string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status=%d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return strings.Trim(string(out.SubmissionID), `"`), nil
}

// Leaderboard returns the top visitors and per-location counts. An unreachable
// server yields an empty board.
func (c *Client) Leaderboard(ctx context.Context) Leaderboard {
	empty := Leaderboard{Leaders: []Leader{}, LocationStats: []LocationStat{}}
	resp, err := c.doJSON(ctx, http.MethodGet, "/leaderboard", nil)
	if err != nil {
		return empty
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return empty
	}
	var board Leaderboard
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		c.logger.Printf("decode leaderboard err=%v", err)
		return empty
	}
	return board
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
