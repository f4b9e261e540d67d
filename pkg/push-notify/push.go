// Package pushnotify turns push-message payloads into user-visible
// notifications and resolves notification clicks against the open
// page contexts.
package pushnotify

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	ActionExplore = "explore"
	ActionClose   = "close"

	defaultTitle = "New notification"
	defaultBody  = "You have a new update"
	defaultIcon  = "/icons/icon-192.png"
)

// maxFallbackBody caps the amount of raw payload text used as a
// notification body when the payload is not valid JSON.
const maxFallbackBody = 120

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is a user-visible notification with the fixed
// explore/close action set and a target URL in its data payload.
type Notification struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Icon      string   `json:"icon"`
	TargetURL string   `json:"targetUrl"`
	Actions   []Action `json:"actions"`
}

func actions() []Action {
	return []Action{
		{Action: ActionExplore, Title: "Open"},
		{Action: ActionClose, Title: "Dismiss"},
	}
}

// Parse builds a notification from a push payload.
// Malformed payloads fall back to a default title and a best-effort
// text extraction of the payload as the body.
func Parse(payload []byte, fallbackURL string) Notification {
	n := Notification{
		Title:     defaultTitle,
		Body:      defaultBody,
		Icon:      defaultIcon,
		TargetURL: fallbackURL,
		Actions:   actions(),
	}
	if !gjson.ValidBytes(payload) {
		if body := fallbackText(payload); body != "" {
			n.Body = body
		}
		return n
	}
	if title := gjson.GetBytes(payload, "title"); title.Exists() {
		n.Title = title.String()
	}
	if body := gjson.GetBytes(payload, "body"); body.Exists() {
		n.Body = body.String()
	}
	if icon := gjson.GetBytes(payload, "icon"); icon.Exists() {
		n.Icon = icon.String()
	}
	if url := gjson.GetBytes(payload, "url"); url.Exists() {
		n.TargetURL = url.String()
	}
	return n
}

func fallbackText(payload []byte) string {
	if !utf8.Valid(payload) {
		return ""
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > maxFallbackBody {
		text = text[:maxFallbackBody]
	}
	return text
}

// ClickOutcome is the action to take in response to a notification click.
type ClickOutcome int

const (
	// OutcomeDismiss closes the notification and nothing else.
	OutcomeDismiss ClickOutcome = iota
	// OutcomeFocus brings an existing page context to the front.
	OutcomeFocus
	// OutcomeOpen opens a new page context at the target URL.
	OutcomeOpen
)

// PageContext describes an open page context as seen by the click resolver.
type PageContext struct {
	ID  string
	URL string
}

// ResolveClick maps a notification click to an outcome.
// The close action only dismisses. Any other action (including the
// default click) focuses an open context whose URL equals the target,
// or opens a new context at the target URL if none matches.
func ResolveClick(action, targetURL string, contexts []PageContext) (ClickOutcome, string) {
	if action == ActionClose {
		return OutcomeDismiss, ""
	}
	for _, pc := range contexts {
		if pc.URL == targetURL {
			return OutcomeFocus, pc.ID
		}
	}
	return OutcomeOpen, targetURL
}
