package vclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hannesill/vitrine/internal/artifact"
	"github.com/hannesill/vitrine/internal/discovery"
)

// pollInterval is how often the remote on_event path GETs /api/events.
const pollInterval = 500 * time.Millisecond

// remoteTransport carries the HTTP half of a remote Client: the push,
// blocking-wait, selection-read, and event-poll paths that cross the
// process boundary to the discovered/spawned server.
type remoteTransport struct {
	info   *discovery.ServerInfo
	client *http.Client

	mu        sync.Mutex
	pollOnce  sync.Once
	callbacks []func(map[string]any)
	stopPoll  chan struct{}
}

func newRemoteTransport(info *discovery.ServerInfo) *remoteTransport {
	return &remoteTransport{info: info, client: &http.Client{}, stopPoll: make(chan struct{})}
}

func (r *remoteTransport) authedRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.info.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+r.info.Token)
	return req, nil
}

func (r *remoteTransport) postCommand(cmd map[string]any) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}
	req, err := r.authedRequest(context.Background(), http.MethodPost, "/api/command", raw)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("command push failed (%s): %s", resp.Status, string(data))
	}
	return nil
}

func (r *remoteTransport) waitFor(cardID string, timeout time.Duration) (any, error) {
	path := fmt.Sprintf("/api/response/%s?timeout=%s", cardID, strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	req, err := r.authedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return timeoutResult(cardID), nil
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return timeoutResult(cardID), nil
	}
	return out, nil
}

func (r *remoteTransport) getSelection(cardID string) (*artifact.Page, error) {
	req, err := r.authedRequest(context.Background(), http.MethodGet, "/api/table/"+cardID+"/selection", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching selection: %w", err)
	}
	defer resp.Body.Close()
	var page artifact.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding selection page: %w", err)
	}
	return &page, nil
}

func (r *remoteTransport) onEvent(cb func(map[string]any)) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()

	r.pollOnce.Do(func() {
		go r.pollEvents()
	})
}

func (r *remoteTransport) pollEvents() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopPoll:
			return
		case <-ticker.C:
			r.fetchAndDispatch()
		}
	}
}

func (r *remoteTransport) fetchAndDispatch() {
	req, err := r.authedRequest(context.Background(), http.MethodGet, "/api/events", nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var events []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return
	}
	r.mu.Lock()
	cbs := append([]func(map[string]any){}, r.callbacks...)
	r.mu.Unlock()
	for _, ev := range events {
		for _, cb := range cbs {
			cb(ev)
		}
	}
}
