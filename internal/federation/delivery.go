package federation

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// deliveryConcurrency bounds how many outbound POSTs run at once, per spec
// §4.5 ("global semaphore, default 10 permits"). Grounded on the teacher's
// federationConcurrency constant in internal/ap/federation.go.
const deliveryConcurrency = 10

// deliverySem is shared by every DeliverMany call, so the bound holds
// across concurrent fan-outs rather than per call.
var deliverySem = make(chan struct{}, deliveryConcurrency)

// Delivery is the narrow collaborator interface spec §9 names for outbound
// federation, letting the processor depend on a behavioural contract rather
// than a concrete HTTP client.
type Delivery interface {
	DeliverOne(ctx context.Context, inbox string, activity map[string]interface{}) error
	DeliverMany(ctx context.Context, activity map[string]interface{}, inboxes []string) []DeliveryResult
}

// DeliveryResult is the per-recipient outcome spec §4.5 requires
// DeliverMany to collect without ever short-circuiting on failure.
type DeliveryResult struct {
	Inbox   string
	Success bool
	Err     error
}

// HTTPDelivery signs and POSTs activities with go-fed/httpsig, exactly as
// the teacher's DeliverActivity in internal/ap/client.go does, generalized
// to the Delivery interface and DeliverMany's fan-out contract.
type HTTPDelivery struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

func NewHTTPDelivery(keyID string, privateKey *rsa.PrivateKey) *HTTPDelivery {
	return &HTTPDelivery{KeyID: keyID, PrivateKey: privateKey}
}

// DeliverOne serialises, signs, and POSTs a single activity. HTTP 2xx and
// 410 Gone (peer gone, nothing more to do) are treated as success; anything
// else is a transient error per spec §4.5.
func (d *HTTPDelivery) DeliverOne(ctx context.Context, inbox string, activity map[string]interface{}) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return Internal("marshal activity", err)
	}

	req, err := SignRequest(ctx, http.MethodPost, inbox, body, d.PrivateKey, d.KeyID)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return Federation(fmt.Sprintf("deliver to %s", inbox), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusGone {
		slog.Debug("delivery target gone, treating as delivered", "inbox", inbox)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Federation(fmt.Sprintf("deliver to %s: HTTP %d", inbox, resp.StatusCode), nil)
	}
	return nil
}

// DeliverMany runs DeliverOne against every inbox under a bounded global
// semaphore, collecting per-recipient results without ever short-circuiting
// on an individual failure (spec §4.5, Testable Scenario S6).
func (d *HTTPDelivery) DeliverMany(ctx context.Context, activity map[string]interface{}, inboxes []string) []DeliveryResult {
	results := make([]DeliveryResult, len(inboxes))
	sem := deliverySem
	var wg sync.WaitGroup

	for i, inbox := range inboxes {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, inbox string) {
			defer func() { <-sem; wg.Done() }()
			err := d.DeliverOne(ctx, inbox, activity)
			results[i] = DeliveryResult{Inbox: inbox, Success: err == nil, Err: err}
		}(i, inbox)
	}
	wg.Wait()

	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	slog.Debug("delivery fan-out complete", "success", success, "total", len(results))
	return results
}

// AddressFields computes the to/cc address lists for an outbound Create per
// spec §4.5's visibility table. mentionedURIs are the actor URIs of
// explicitly mentioned remote actors (always included) and replyToAuthor,
// if non-empty, is the actor URI of a reply target's author (always
// included). The returned lists are AP addresses (Public, the followers
// collection URI, actor URIs) — not inbox URLs; resolve those separately
// with CollectRecipients + ResolveInboxes.
func AddressFields(visibility, followersURI string, mentionedURIs []string, replyToAuthor string) (to, cc []string) {
	switch visibility {
	case "public":
		to = []string{activitypubPublicURI}
		cc = []string{followersURI}
	case "unlisted":
		to = []string{followersURI}
		cc = []string{activitypubPublicURI}
	case "followers-only":
		to = []string{followersURI}
	case "direct":
		to = append(to, mentionedURIs...)
	}
	if visibility != "direct" {
		cc = append(cc, mentionedURIs...)
	}
	if replyToAuthor != "" {
		cc = append(cc, replyToAuthor)
	}
	return to, cc
}

const activitypubPublicURI = "https://www.w3.org/ns/activitystreams#Public"

// CollectRecipients gathers every recipient AP id from an activity's to/cc
// fields, expanding the actor's own followers collection URI into concrete
// follower actor URIs via getFollowers. Grounded on the teacher's
// collectRecipients in internal/ap/federation.go.
func CollectRecipients(activity map[string]interface{}, getFollowers func(actorID string) ([]string, error)) map[string]struct{} {
	recipients := make(map[string]struct{})

	addList := func(key string) {
		switch v := activity[key].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					recipients[s] = struct{}{}
				}
			}
		case []string:
			for _, s := range v {
				recipients[s] = struct{}{}
			}
		}
	}
	addList("to")
	addList("cc")

	actorID, _ := activity["actor"].(string)
	followersCollection := actorID + "/followers"
	if _, ok := recipients[followersCollection]; ok {
		delete(recipients, followersCollection)
		if getFollowers != nil {
			followers, err := getFollowers(actorID)
			if err != nil {
				slog.Warn("failed to get followers", "actor", actorID, "error", err)
			} else {
				for _, f := range followers {
					recipients[f] = struct{}{}
				}
			}
		}
	}
	return recipients
}

// inboxOrigin extracts scheme://host from a URL, used to dedupe shared
// inboxes so a single POST reaches each remote host, matching the teacher's
// resolveInboxes/extractOrigin behavior in internal/ap/federation.go.
func inboxOrigin(rawURL string) string {
	if idx := strings.Index(rawURL, "://"); idx != -1 {
		rest := rawURL[idx+3:]
		if slash := strings.IndexByte(rest, '/'); slash != -1 {
			return rawURL[:idx+3+slash]
		}
		return rawURL
	}
	return rawURL
}

// ResolveInboxes converts recipient actor URIs into deliverable inbox URLs,
// preferring each origin's sharedInbox (at most once per origin) over the
// per-actor inbox, and skipping the public collection URI and any local id.
func ResolveInboxes(ctx context.Context, localDomain string, recipients map[string]struct{}) []string {
	inboxes := make(map[string]struct{})
	seenOrigin := make(map[string]struct{})

	for recipientID := range recipients {
		if recipientID == activitypubPublicURI {
			continue
		}
		if !strings.HasPrefix(recipientID, "http://") && !strings.HasPrefix(recipientID, "https://") {
			continue
		}
		base := strings.TrimRight(localDomain, "/")
		if recipientID == base || strings.HasPrefix(recipientID, base+"/") {
			continue
		}

		actor, err := FetchActor(ctx, recipientID)
		if err != nil || actor == nil {
			slog.Debug("failed to fetch actor for federation", "actor", recipientID, "error", err)
			continue
		}

		inbox := actor.Inbox
		if actor.Endpoints != nil && actor.Endpoints.SharedInbox != "" {
			origin := inboxOrigin(actor.Endpoints.SharedInbox)
			if _, already := seenOrigin[origin]; already {
				continue
			}
			seenOrigin[origin] = struct{}{}
			inbox = actor.Endpoints.SharedInbox
		}
		if inbox != "" {
			inboxes[inbox] = struct{}{}
		}
	}

	out := make([]string, 0, len(inboxes))
	for ib := range inboxes {
		out = append(out, ib)
	}
	return out
}

