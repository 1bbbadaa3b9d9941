// Package notify wraps optional OS desktop notifications for a card waiting
// on a response.
package notify

import (
	"runtime"

	"github.com/go-toast/toast"
)

// Toaster shows a desktop toast when a card sets response_requested, so a
// researcher working in another window notices a blocking card without
// having to keep the browser tab focused.
type Toaster struct {
	appID        string
	dashboardURL string
}

// NewToaster builds a Toaster pointed at the given display URL.
func NewToaster(dashboardURL string) *Toaster {
	return &Toaster{appID: "vitrine", dashboardURL: dashboardURL}
}

// NotifyResponseRequested shows a toast for a card awaiting a response. A
// no-op (returning nil) on non-Windows platforms.
func (t *Toaster) NotifyResponseRequested(cardTitle string) error {
	if runtime.GOOS != "windows" {
		return nil
	}
	msg := cardTitle
	if msg == "" {
		msg = "A card is waiting for your response"
	}
	n := toast.Notification{
		AppID:   t.appID,
		Title:   "vitrine needs your input",
		Message: msg,
		Audio:   toast.IM,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open vitrine", Arguments: t.dashboardURL},
		},
	}
	return n.Push()
}

// IsSupported reports whether toast notifications can actually fire on this
// platform.
func (t *Toaster) IsSupported() bool {
	return runtime.GOOS == "windows"
}
