package vclient

import "fmt"

// ProgressHandle is a scoped resource over a single card id: Progress writes a
// running card, Done/Fail replace it with a terminal state, and Update
// replaces the text mid-run. It does not suppress exceptions — callers
// should defer Fail in the frame that might panic.
type ProgressHandle struct {
	client *Client
	study  string
	cardID string
	closed bool
}

// Progress starts a running progress card and returns a handle.
func (c *Client) Progress(title, studyLabel string) (*ProgressHandle, error) {
	label, _, err := c.resolveStudy(studyLabel)
	if err != nil {
		return nil, err
	}
	result, err := c.Show("⟳ "+title, ShowOptions{Title: title, Study: label})
	if err != nil {
		return nil, err
	}
	handle, ok := result.(*Handle)
	if !ok {
		return nil, fmt.Errorf("progress: unexpected show result %T", result)
	}
	return &ProgressHandle{client: c, study: label, cardID: handle.CardID}, nil
}

// Update replaces the progress card's text without closing it.
func (p *ProgressHandle) Update(text string) error {
	if p.closed {
		return fmt.Errorf("progress card %s already closed", p.cardID)
	}
	_, err := p.client.Show("⟳ "+text, ShowOptions{Study: p.study, Replace: p.cardID})
	return err
}

// Done marks the progress card complete. Calling it more than once is a
// no-op.
func (p *ProgressHandle) Done(text string) error {
	if p.closed {
		return nil
	}
	p.closed = true
	_, err := p.client.Show("✓ "+text, ShowOptions{Study: p.study, Replace: p.cardID})
	return err
}

// Fail marks the progress card failed. Calling it more than once is a no-op.
func (p *ProgressHandle) Fail(text string) error {
	if p.closed {
		return nil
	}
	p.closed = true
	_, err := p.client.Show("✗ "+text, ShowOptions{Study: p.study, Replace: p.cardID})
	return err
}

// CardID returns the id of the card this handle is tracking.
func (p *ProgressHandle) CardID() string { return p.cardID }
