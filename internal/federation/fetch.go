package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rustresort/rustresort/internal/activitypub"
)

// httpClient is shared by all outbound fetches (key/actor resolution,
// WebFinger, delivery). A generous but bounded timeout matches spec §5's
// "signature key fetch 10 s" suspension-point budget.
var httpClient = &http.Client{Timeout: 10 * time.Second}

const userAgent = "rustresort/1.0 (+https://github.com/rustresort/rustresort)"

// FetchObject fetches and JSON-decodes a remote ActivityPub object. 410
// Gone is surfaced as ErrGone so callers can distinguish "deleted" from
// other transient failures.
func FetchObject(ctx context.Context, rawURL string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Internal("build fetch request", err)
	}
	req.Header.Set("Accept", `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, Federation(fmt.Sprintf("fetch %s", rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Federation(fmt.Sprintf("fetch %s: HTTP %d", rawURL, resp.StatusCode), nil)
	}

	var obj map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, Federation(fmt.Sprintf("decode response from %s", rawURL), err)
	}
	return obj, nil
}

// FetchActor fetches and parses a remote Actor document.
func FetchActor(ctx context.Context, actorURL string) (*activitypub.Actor, error) {
	obj, err := FetchObject(ctx, actorURL)
	if err != nil {
		return nil, err
	}
	return mapToActor(obj), nil
}

func mapToActor(m map[string]interface{}) *activitypub.Actor {
	if m == nil {
		return nil
	}
	a := &activitypub.Actor{
		ID:                getString(m, "id"),
		Type:              getString(m, "type"),
		Name:              getString(m, "name"),
		PreferredUsername: getString(m, "preferredUsername"),
		Summary:           getString(m, "summary"),
		Inbox:             getString(m, "inbox"),
		Outbox:            getString(m, "outbox"),
		Followers:         getString(m, "followers"),
		Following:         getString(m, "following"),
		URL:               getString(m, "url"),
	}
	if pk, ok := m["publicKey"].(map[string]interface{}); ok {
		a.PublicKey = &activitypub.PublicKey{
			ID:           getString(pk, "id"),
			Owner:        getString(pk, "owner"),
			PublicKeyPem: getString(pk, "publicKeyPem"),
		}
	}
	if ep, ok := m["endpoints"].(map[string]interface{}); ok {
		a.Endpoints = &activitypub.Endpoints{SharedInbox: getString(ep, "sharedInbox")}
	}
	if icon, ok := m["icon"].(map[string]interface{}); ok {
		a.Icon = &activitypub.Image{Type: getString(icon, "type"), URL: getString(icon, "url")}
	}
	return a
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WebFingerResolve resolves "user@host" to an actor URI via WebFinger.
func WebFingerResolve(ctx context.Context, handle string) (string, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 {
		return "", Validation(fmt.Sprintf("invalid handle %q: expected user@domain", handle), nil)
	}
	domain := parts[1]
	wfURL := "https://" + domain + "/.well-known/webfinger?resource=acct:" + handle

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wfURL, nil)
	if err != nil {
		return "", Internal("build webfinger request", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", Federation("webfinger fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Federation(fmt.Sprintf("webfinger returned HTTP %d for %s", resp.StatusCode, handle), nil)
	}

	var wf activitypub.WebFingerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return "", Federation("webfinger decode", err)
	}
	for _, link := range wf.Links {
		if link.Rel == "self" && isAPMediaType(link.Type) {
			return link.Href, nil
		}
	}
	return "", NotFound(fmt.Sprintf("no ActivityPub actor link found for %s", handle))
}

// isAPMediaType reports whether a WebFinger link content-type string
// represents an ActivityPub actor document.
func isAPMediaType(ct string) bool {
	lower := strings.ToLower(ct)
	if lower == "application/activity+json" {
		return true
	}
	return strings.HasPrefix(lower, "application/ld+json") &&
		strings.Contains(lower, "https://www.w3.org/ns/activitystreams")
}
