// Package vclient implements the client-side API layer: the entry points an
// agent (or any caller posting to a study) uses to display cards and block
// on researcher responses. A Client chooses between two push paths at
// construction time rather than per-call: NewInProcess wires directly into
// a running *server.Server's collaborators (no HTTP round trip); NewRemote
// discovers or spawns the singleton server and talks to it over HTTP.
// Push-path failures are logged and swallowed rather than propagated —
// agent-facing APIs never raise on push-path transport errors.
package vclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hannesill/vitrine/internal/artifact"
	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/discovery"
	"github.com/hannesill/vitrine/internal/future"
	"github.com/hannesill/vitrine/internal/render"
	"github.com/hannesill/vitrine/internal/server"
	"github.com/hannesill/vitrine/internal/study"
)

// Handle is what Show returns when not blocking for a response: a
// string-like reference to the posted card, carrying an optional deep-link
// URL for opening the card directly in a browser.
type Handle struct {
	CardID string
	URL    string
}

func (h *Handle) String() string { return h.CardID }

// ShowOptions mirrors show()'s keyword arguments.
type ShowOptions struct {
	Title       string
	Description string
	Study       string
	Source      string
	Replace     string
	Wait        bool
	Prompt      string
	Timeout     time.Duration
	Actions     []string
	Controls    *card.Form
}

// Client is the client-side API surface.
type Client struct {
	studies  *study.Manager
	hub      *server.Hub
	futures  *future.Registry
	redactor *render.Redactor

	srv    *server.Server
	info   *discovery.ServerInfo
	remote *remoteTransport
}

// NewInProcess wires a Client directly into srv's collaborators: pushes go
// straight to the Hub, blocking waits attach directly to the future
// registry.
func NewInProcess(srv *server.Server) *Client {
	return &Client{
		srv:      srv,
		studies:  srv.Studies(),
		hub:      srv.Hub(),
		futures:  srv.Futures(),
		redactor: render.NewRedactor(),
	}
}

// NewRemote discovers or spawns the singleton server for vitrineDir and
// returns a Client that pushes over HTTP. Rendering and study resolution
// still happen locally against the shared .vitrine directory — only the
// display push, response wait, and selection read cross the process
// boundary.
func NewRemote(vitrineDir string) (*Client, error) {
	info, err := discovery.Connect(vitrineDir, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to vitrine server: %w", err)
	}
	studies, err := study.NewManager(vitrineDir)
	if err != nil {
		return nil, fmt.Errorf("opening study manager: %w", err)
	}
	return &Client{
		studies:  studies,
		redactor: render.NewRedactor(),
		info:     info,
		remote:   newRemoteTransport(info),
	}, nil
}

func (c *Client) isRemote() bool { return c.remote != nil }

func (c *Client) resolveStudy(label string) (string, *artifact.Store, error) {
	return c.studies.GetOrCreateStudy(label)
}

// Show renders obj and posts it as a card. A bare *card.Question is wrapped
// in a single-field Form; Forms and non-empty Controls force Wait=true
// regardless of opts.Wait. Returns a *Handle when not waiting, or the
// resolved response map when waiting (including
// {"action":"timeout","card_id":...} on expiry).
func (c *Client) Show(obj any, opts ShowOptions) (any, error) {
	obj = wrapQuestion(obj)
	wait := opts.Wait || isFormLike(obj) || opts.Controls != nil

	label, store, err := c.resolveStudy(opts.Study)
	if err != nil {
		return nil, fmt.Errorf("resolving study: %w", err)
	}

	if opts.Replace != "" {
		return c.replace(opts.Replace, obj, opts, label, store, wait)
	}

	rendered, err := render.Render(obj, render.Options{
		Title: opts.Title, Description: opts.Description, Source: opts.Source, Study: label,
	}, store, c.redactor)
	if err != nil {
		return nil, fmt.Errorf("rendering card: %w", err)
	}
	rendered.Study = label
	applyInteraction(rendered, opts, wait)

	if err := store.AppendCard(rendered); err != nil {
		return nil, fmt.Errorf("appending card: %w", err)
	}
	c.studies.RegisterCard(rendered.ID, store.DirName())

	if err := c.pushAdd(label, rendered); err != nil {
		log.Printf("[VCLIENT] push card %s failed: %v", rendered.ID, err)
	}

	if !wait {
		return &Handle{CardID: rendered.ID, URL: c.deepLink(rendered.ID)}, nil
	}
	return c.WaitFor(rendered.ID, opts.Timeout)
}

func (c *Client) replace(cardID string, obj any, opts ShowOptions, label string, store *artifact.Store, wait bool) (any, error) {
	rendered, err := render.Render(obj, render.Options{
		Title: opts.Title, Description: opts.Description, Source: opts.Source, Study: label,
	}, store, c.redactor)
	if err != nil {
		return nil, fmt.Errorf("rendering replacement card: %w", err)
	}
	rendered.ID = cardID
	rendered.Study = label
	applyInteraction(rendered, opts, wait)

	changes, err := cardToChanges(rendered)
	if err != nil {
		return nil, err
	}
	delete(changes, "card_id")
	updated, err := store.UpdateCard(cardID, changes)
	if err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("card %s not found", cardID)
	}

	if err := c.pushUpdate(label, updated); err != nil {
		log.Printf("[VCLIENT] push update %s failed: %v", cardID, err)
	}

	if !wait {
		return &Handle{CardID: cardID, URL: c.deepLink(cardID)}, nil
	}
	return c.WaitFor(cardID, opts.Timeout)
}

// Section creates and broadcasts a SECTION card.
func (c *Client) Section(title, studyLabel string) (*card.Card, error) {
	label, store, err := c.resolveStudy(studyLabel)
	if err != nil {
		return nil, err
	}
	cd := card.New(card.Section)
	cd.Title = title
	cd.Study = label
	if err := store.AppendCard(cd); err != nil {
		return nil, fmt.Errorf("appending section card: %w", err)
	}
	c.studies.RegisterCard(cd.ID, store.DirName())
	if err := c.pushSection(label, cd); err != nil {
		log.Printf("[VCLIENT] push section %s failed: %v", cd.ID, err)
	}
	return cd, nil
}

// Confirm is a yes/no shorthand over Show that always blocks.
func (c *Client) Confirm(message, studyLabel string, timeout time.Duration) (any, error) {
	q, err := card.NewQuestion("confirm", message, []card.Option{{Label: "Yes"}, {Label: "No"}})
	if err != nil {
		return nil, err
	}
	form, err := card.NewForm(q)
	if err != nil {
		return nil, err
	}
	return c.Show(form, ShowOptions{Title: "Confirm", Study: studyLabel, Wait: true, Timeout: timeout})
}

// Ask poses form and blocks for the response.
func (c *Client) Ask(form *card.Form, opts ShowOptions) (any, error) {
	opts.Wait = true
	return c.Show(form, opts)
}

// WaitFor blocks on card_id's response future. The in-process path attaches
// directly to the server's future registry; the remote path long-polls GET
// /api/response/{id}. timeout<=0 defaults to 30s.
func (c *Client) WaitFor(cardID string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if c.isRemote() {
		return c.remote.waitFor(cardID, timeout)
	}
	return c.waitForInProcess(cardID, timeout)
}

func (c *Client) waitForInProcess(cardID string, timeout time.Duration) (any, error) {
	if c.futures == nil {
		return timeoutResult(cardID), nil
	}
	fut, ok := c.futures.Get(cardID)
	if !ok {
		fut = c.futures.Arm(cardID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	value, err := fut.Wait(ctx)
	if err != nil {
		c.futures.Cancel(cardID)
		return timeoutResult(cardID), nil
	}
	return value, nil
}

func timeoutResult(cardID string) map[string]any {
	return map[string]any{"action": "timeout", "card_id": cardID}
}

// GetSelection returns the rows currently selected on cardID: the
// in-process path reads the server's live selection map, the remote path
// asks GET /api/table/{id}/selection.
func (c *Client) GetSelection(cardID string) (*artifact.Page, error) {
	if c.isRemote() {
		return c.remote.getSelection(cardID)
	}
	indices := c.selectionIndicesInProcess(cardID)
	if len(indices) == 0 {
		return &artifact.Page{Columns: []string{}, Rows: [][]any{}}, nil
	}
	store := c.studies.GetStoreForCard(cardID)
	if store == nil {
		return nil, fmt.Errorf("no store registered for card %s", cardID)
	}
	page, err := store.ReadTablePage(cardID, 0, 10_000, "", true, "")
	if err != nil {
		return nil, err
	}
	wanted := make(map[int]bool, len(indices))
	for _, idx := range indices {
		wanted[idx] = true
	}
	rows := make([][]any, 0, len(indices))
	for i, row := range page.Rows {
		if wanted[i] {
			rows = append(rows, row)
		}
	}
	return &artifact.Page{Columns: page.Columns, Rows: rows, TotalRows: len(rows)}, nil
}

func (c *Client) selectionIndicesInProcess(cardID string) []int {
	if c.srv == nil {
		return nil
	}
	return c.srv.SelectionIndices(cardID)
}

// OnEvent registers cb for every vitrine.event frame the server receives
// that isn't otherwise handled: in-process registers directly on the
// server; remote starts a background poller hitting GET /api/events every
// 500ms.
func (c *Client) OnEvent(cb func(map[string]any)) {
	if c.isRemote() {
		c.remote.onEvent(cb)
		return
	}
	if c.srv != nil {
		c.srv.RegisterEventCallback(cb)
	}
}

func wrapQuestion(obj any) any {
	q, ok := obj.(*card.Question)
	if !ok {
		return obj
	}
	form, err := card.NewForm(q)
	if err != nil {
		return obj
	}
	return form
}

func isFormLike(obj any) bool {
	switch obj.(type) {
	case *card.Form, *card.Question:
		return true
	default:
		return false
	}
}

func applyInteraction(c *card.Card, opts ShowOptions, wait bool) {
	if opts.Controls != nil {
		c.Preview["controls"] = opts.Controls.ToDict()
	}
	if wait {
		c.ResponseRequested = true
		c.Prompt = opts.Prompt
		c.Timeout = opts.Timeout.Seconds()
		c.Actions = opts.Actions
	}
}

func cardToChanges(cd *card.Card) (map[string]any, error) {
	raw, err := json.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("marshaling card: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling card: %w", err)
	}
	return m, nil
}

func (c *Client) deepLink(cardID string) string {
	if c.isRemote() {
		return c.info.DisplayURL + "/#card=" + cardID
	}
	return ""
}

func (c *Client) pushAdd(studyLabel string, cd *card.Card) error {
	if c.isRemote() {
		return c.remote.postCommand(map[string]any{"type": "card", "study": studyLabel, "card": cardToMap(cd)})
	}
	if c.hub != nil {
		c.hub.BroadcastCardAdd(studyLabel, cd)
	}
	return nil
}

func (c *Client) pushUpdate(studyLabel string, cd *card.Card) error {
	if c.isRemote() {
		changes, err := cardToChanges(cd)
		if err != nil {
			return err
		}
		return c.remote.postCommand(map[string]any{"type": "update", "study": studyLabel, "id": cd.ID, "changes": changes})
	}
	if c.hub != nil {
		c.hub.BroadcastCardUpdate(studyLabel, cd)
	}
	return nil
}

func (c *Client) pushSection(studyLabel string, cd *card.Card) error {
	if c.isRemote() {
		return c.remote.postCommand(map[string]any{"type": "section", "study": studyLabel, "card": cardToMap(cd)})
	}
	if c.hub != nil {
		c.hub.BroadcastSection(studyLabel, cd)
	}
	return nil
}

func cardToMap(cd *card.Card) map[string]any {
	raw, _ := json.Marshal(cd)
	var m map[string]any
	json.Unmarshal(raw, &m)
	return m
}
