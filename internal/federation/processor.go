package federation

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/rustresort/rustresort/internal/activitypub"
	"github.com/rustresort/rustresort/internal/store"
)

// DomainBlocklist, StatusStore, FollowerStore, NotificationSink, TimelineCache
// and ProfileCache are the narrow collaborator interfaces spec §9 names,
// alongside KeyResolver (signature.go) and Delivery (delivery.go). *store.Store
// satisfies the first four; *store.TimelineCache and *store.ProfileCache
// satisfy the last two directly.
type DomainBlocklist interface {
	IsDomainBlocked(host string) (bool, error)
}

type StatusStore interface {
	UpsertStatus(st *store.Status) error
	GetStatusByURI(uri string) (*store.Status, error)
	IsLocalStatusURI(uri string) (bool, error)
	DeleteStatusByURI(uri string) error
	DeleteMediaForStatus(statusID string) error
	InsertMediaAttachment(m *store.MediaAttachment) error
	BindMediaToStatus(mediaID, statusID string) error
}

type FollowerStore interface {
	AddFollower(address, followURI, inboxURI string) error
	RemoveFollowerByFollowURI(followURI string) error
	IsFollower(address string) (bool, error)
	FollowerInboxes() ([]string, error)
	AddFollow(address, followURI string) error
	RemoveFollow(address string) error
	FollowedAddresses() ([]string, error)
}

type NotificationSink interface {
	InsertNotification(n *store.Notification) error
}

type TimelineCache interface {
	Insert(e store.TimelineEntry)
	Invalidate(id string)
}

type ProfileCache interface {
	Get(address string) (store.ProfileEntry, bool)
	Put(e store.ProfileEntry)
	Invalidate(address string)
}

// sanitizer strips everything but the small set of inline tags Fediverse
// servers actually emit in status content, matching Mastodon's own
// UGC policy more closely than bluemonday's stock UGCPolicy (which still
// allows tables, headings, and other block structure status content never
// uses).
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowAttrs("href", "rel", "class").OnElements("a")
	p.AllowElements("p", "br", "span", "strong", "em", "del", "code", "pre", "blockquote", "ul", "ol", "li")
	return p
}

// Processor dispatches verified inbound activities per spec §4.4 — the
// heart of the federation core. It owns no network or storage details of
// its own; every effect runs through the narrow collaborator interfaces
// above, grounded on the teacher's APHandler in internal/ap/handler.go.
type Processor struct {
	LocalActorURI string // e.g. https://example.com/users/alice
	LocalDomain   string

	Domains       DomainBlocklist
	Statuses      StatusStore
	Followers     FollowerStore
	Notifications NotificationSink
	Timeline      TimelineCache
	Profiles      ProfileCache
	Delivery      Delivery

	KeyID      string
	PrivateKey *rsa.PrivateKey

	sanitizer *bluemonday.Policy
	seen      *seenSet
}

// NewProcessor wires a Processor with an activity-id dedup set (see
// seen.go) holding the 10000 most recently seen inbound ids.
func NewProcessor(localActorURI, localDomain string, keyID string, privateKey *rsa.PrivateKey) *Processor {
	return &Processor{
		LocalActorURI: localActorURI,
		LocalDomain:   localDomain,
		KeyID:         keyID,
		PrivateKey:    privateKey,
		sanitizer:     newSanitizer(),
		seen:          newSeenSet(10000),
	}
}

func (p *Processor) followersURI() string { return p.LocalActorURI + "/followers" }

// HandleActivity parses and dispatches a verified inbound activity. The
// caller (the inbox HTTP handler) has already run VerifyRequest and
// CheckAndIncrement; actor is the verified signer's URI, derived from the
// Signature header's keyId rather than trusted from the JSON body.
func (p *Processor) HandleActivity(ctx context.Context, raw json.RawMessage, actor string) error {
	var activity activitypub.IncomingActivity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return Validation("unmarshal activity", err)
	}

	// The JSON body's "actor" field is attacker-controlled; it must agree
	// with the actor the HTTP signature actually verified, or a peer could
	// sign as themselves while claiming to act on someone else's behalf.
	if actor != "" && activity.Actor != actor {
		return Unauthorized(fmt.Sprintf("activity actor %q does not match signing actor %q", activity.Actor, actor), nil)
	}

	slog.Debug("processing inbound activity", "id", activity.ID, "type", activity.Type, "actor", activity.Actor)

	host, err := actorHost(activity.Actor)
	if err != nil {
		return Validation("activity actor has no host", err)
	}
	blocked, err := p.Domains.IsDomainBlocked(host)
	if err != nil {
		return Internal("check domain block", err)
	}
	if blocked {
		return Forbidden(fmt.Sprintf("domain %s is blocked", host), nil)
	}

	// Duplicate activity ids (retries) are treated as success without
	// reprocessing rather than erroring.
	if p.seen.CheckAndMark(activity.ID) {
		slog.Debug("ignoring duplicate activity", "id", activity.ID)
		return nil
	}

	switch activity.Type {
	case "Follow":
		return p.handleFollow(ctx, activity)
	case "Create":
		return p.handleCreate(ctx, activity)
	case "Like":
		return p.handleLike(ctx, activity)
	case "Announce":
		return p.handleAnnounce(ctx, activity)
	case "Undo":
		return p.handleUndo(ctx, activity)
	case "Accept":
		return p.handleAccept(ctx, activity)
	case "Reject":
		return p.handleReject(ctx, activity)
	case "Update":
		return p.handleUpdate(ctx, activity)
	case "Delete":
		return p.handleDelete(ctx, activity)
	default:
		// Unknown types are ignored, not errored — a Fediverse convention
		// (new activity vocabulary rolls out faster than implementations).
		slog.Debug("ignoring unknown activity type", "type", activity.Type)
		return nil
	}
}

// ─── Follow ─────────────────────────────────────────────────────────────

func (p *Processor) handleFollow(ctx context.Context, activity activitypub.IncomingActivity) error {
	var followedID string
	if err := json.Unmarshal(activity.Object, &followedID); err != nil {
		return Validation("parse follow object", err)
	}
	if followedID != p.LocalActorURI {
		slog.Debug("ignoring follow not addressed to the local actor", "object", followedID)
		return nil
	}

	actorDoc, err := FetchActor(ctx, activity.Actor)
	if err != nil {
		return Federation("resolve follower actor", err)
	}
	inbox := actorDoc.Inbox
	if actorDoc.Endpoints != nil && actorDoc.Endpoints.SharedInbox != "" {
		inbox = actorDoc.Endpoints.SharedInbox
	}

	address := addressFor(actorDoc, host(activity.Actor))
	if err := p.Followers.AddFollower(address, activity.ID, inbox); err != nil {
		return Internal("store follower", err)
	}
	if err := p.Notifications.InsertNotification(&store.Notification{
		Type:          "follow",
		OriginAddress: address,
	}); err != nil {
		slog.Warn("failed to record follow notification", "error", err)
	}

	followActivity := map[string]interface{}{
		"id":     activity.ID,
		"type":   "Follow",
		"actor":  activity.Actor,
		"object": followedID,
	}
	accept := activitypub.BuildAccept(followActivity, p.LocalActorURI, activity.Actor)

	// Accept delivery runs in the background: the HTTP handler's request
	// context is cancelled the moment HandleActivity returns, and a failed
	// Accept must not roll back the follower record (at-most-once Accept).
	go func() {
		if err := p.Delivery.DeliverOne(context.Background(), inbox, accept); err != nil {
			slog.Warn("failed to deliver accept", "to", inbox, "error", err)
		}
	}()
	return nil
}

// ─── Create ─────────────────────────────────────────────────────────────

func (p *Processor) handleCreate(ctx context.Context, activity activitypub.IncomingActivity) error {
	var note activitypub.Note
	if err := json.Unmarshal(activity.Object, &note); err != nil {
		return Validation("parse create object", err)
	}
	if note.Type != "Note" && note.Type != "Article" {
		slog.Debug("ignoring create of unhandled object type", "type", note.Type)
		return nil
	}

	note.Content = p.sanitizer.Sanitize(note.Content)

	author := addressFor(nil, host(note.AttributedTo))
	if actorDoc, err := FetchActor(ctx, note.AttributedTo); err == nil && actorDoc != nil {
		author = addressFor(actorDoc, host(note.AttributedTo))
	}

	replyToLocal := false
	if note.InReplyTo != "" {
		if ok, err := p.Statuses.IsLocalStatusURI(note.InReplyTo); err == nil {
			replyToLocal = ok
		}
	}
	mentioned := mentionsActor(note.To, note.CC, note.Tag, p.LocalActorURI)

	switch DecideCreate(mentioned, replyToLocal, p.followsAuthor(author)) {
	case Persist:
		st, err := p.persistStatus(&note, author, "reply_to_own")
		if err != nil {
			return err
		}
		if err := p.bindAttachments(&note, st.ID); err != nil {
			slog.Warn("failed to persist attachments for status", "status", st.ID, "error", err)
		}
		return p.notify("mention", author, note.ID)

	case CacheOnly:
		p.Timeline.Insert(store.TimelineEntry{
			ID:           store.NewID(),
			URI:          note.ID,
			AuthorAddr:   author,
			Content:      note.Content,
			Visibility:   p.visibilityOf(note.To, note.CC),
			Attachments:  attachmentsFromNote(&note),
			InReplyToURI: note.InReplyTo,
			CreatedAt:    note.Published,
		})
		if mentioned {
			// Mentioned but not a reply to a local status: spec §4.4's
			// Create prose and scenario S3 both cache this rather than
			// persist it, but a mention notification is still owed.
			return p.notify("mention", author, note.ID)
		}
		return nil

	default:
		slog.Debug("ignoring create from unfollowed, non-mentioning author", "author", author)
		return nil
	}
}

// followsAuthor reports whether the local actor follows address (the
// CacheOnly condition for an otherwise-irrelevant Create).
func (p *Processor) followsAuthor(address string) bool {
	addrs, err := p.Followers.FollowedAddresses()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a == address {
			return true
		}
	}
	return false
}

func (p *Processor) persistStatus(note *activitypub.Note, author, reason string) (*store.Status, error) {
	st := &store.Status{
		URI:             note.ID,
		Content:         note.Content,
		ContentWarning:  note.Summary,
		Visibility:      p.visibilityOf(note.To, note.CC),
		AuthorAddress:   author,
		IsLocal:         false,
		InReplyToURI:    note.InReplyTo,
		PersistedReason: reason,
		CreatedAt:       note.Published,
		FetchedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.Statuses.UpsertStatus(st); err != nil {
		return nil, err
	}
	return st, nil
}

// mediaAttachmentFromWire converts an inbound AP attachment to its storage
// form. thumbnail is non-nil only when a local copy of the media has been
// fetched; inbound federation never fetches remote media (spec Non-goals),
// so this path always trusts the peer-supplied blurhash string, and the
// local-thumbnail branch exists for callers (e.g. local media upload) that
// do have bytes to hash.
func mediaAttachmentFromWire(att activitypub.Attachment, thumbnail []byte) (*store.MediaAttachment, error) {
	m := &store.MediaAttachment{
		ObjectKey: att.URL,
		MimeType:  att.MediaType,
		AltText:   att.Name,
		Blurhash:  att.Blurhash,
		Width:     att.Width,
		Height:    att.Height,
	}
	if len(thumbnail) > 0 {
		hash, err := store.ComputeBlurhash(thumbnail)
		if err != nil {
			return nil, err
		}
		m.Blurhash = hash
	}
	return m, nil
}

// attachmentsFromNote converts a Note's wire attachments for a timeline
// cache entry (the CacheOnly path, which never touches media_attachments).
func attachmentsFromNote(note *activitypub.Note) []store.MediaAttachment {
	if len(note.Attachment) == 0 {
		return nil
	}
	out := make([]store.MediaAttachment, 0, len(note.Attachment))
	for _, att := range note.Attachment {
		m, err := mediaAttachmentFromWire(att, nil)
		if err != nil {
			slog.Warn("failed to convert timeline-cached attachment", "error", err)
			continue
		}
		out = append(out, *m)
	}
	return out
}

// bindAttachments persists a persisted status's wire attachments as orphaned
// media_attachments rows and immediately binds each to statusID, per spec
// §3's MediaAttachment lifecycle.
func (p *Processor) bindAttachments(note *activitypub.Note, statusID string) error {
	for _, att := range note.Attachment {
		m, err := mediaAttachmentFromWire(att, nil)
		if err != nil {
			return err
		}
		if err := p.Statuses.InsertMediaAttachment(m); err != nil {
			return err
		}
		if err := p.Statuses.BindMediaToStatus(m.ID, statusID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notify(kind, originAddress, statusURI string) error {
	if err := p.Notifications.InsertNotification(&store.Notification{
		Type:          kind,
		OriginAddress: originAddress,
		StatusURI:     statusURI,
	}); err != nil {
		return Internal("store notification", err)
	}
	return nil
}

// visibilityOf classifies an object's audience the same way the inbox
// boundary classifies whole activities (see postVisibility in the
// teacher), generalised to the four-visibility model spec §3 defines.
func (p *Processor) visibilityOf(to, cc []string) string {
	for _, r := range to {
		if r == activitypub.PublicURI {
			return "public"
		}
	}
	for _, r := range cc {
		if r == activitypub.PublicURI {
			return "unlisted"
		}
	}
	for _, r := range to {
		if r == p.followersURI() {
			return "followers-only"
		}
	}
	return "direct"
}

// mentionsActor walks to/cc and tag[*] (type Mention, href) for actorURI,
// per spec §4.4 step 3's Create relevance test.
func mentionsActor(to, cc []string, tags []interface{}, actorURI string) bool {
	for _, r := range to {
		if r == actorURI {
			return true
		}
	}
	for _, r := range cc {
		if r == actorURI {
			return true
		}
	}
	for _, raw := range tags {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "Mention" {
			continue
		}
		if href, _ := m["href"].(string); href == actorURI {
			return true
		}
	}
	return false
}

// ─── Like / Announce ────────────────────────────────────────────────────

func (p *Processor) handleLike(ctx context.Context, activity activitypub.IncomingActivity) error {
	var objectURI string
	if err := json.Unmarshal(activity.Object, &objectURI); err != nil {
		return Validation("parse like object", err)
	}
	isLocal, err := p.Statuses.IsLocalStatusURI(objectURI)
	if err != nil {
		return Internal("check local status", err)
	}
	if !isLocal {
		return nil
	}
	return p.notify("favourite", addressFor(nil, host(activity.Actor)), objectURI)
}

func (p *Processor) handleAnnounce(ctx context.Context, activity activitypub.IncomingActivity) error {
	var objectURI string
	if err := json.Unmarshal(activity.Object, &objectURI); err == nil {
		isLocal, err := p.Statuses.IsLocalStatusURI(objectURI)
		if err != nil {
			return Internal("check local status", err)
		}
		if isLocal {
			return p.notify("reblog", addressFor(nil, host(activity.Actor)), objectURI)
		}
		return nil
	}

	// Not a bare URI: this is a quote boost with an embedded object.
	var note activitypub.Note
	if err := json.Unmarshal(activity.Object, &note); err != nil {
		return Validation("parse announce object", err)
	}
	if mentionsActor(note.To, note.CC, note.Tag, p.LocalActorURI) {
		return p.notify("mention", addressFor(nil, host(activity.Actor)), note.ID)
	}
	return nil
}

// ─── Undo ───────────────────────────────────────────────────────────────

func (p *Processor) handleUndo(ctx context.Context, activity activitypub.IncomingActivity) error {
	var inner activitypub.IncomingActivity
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		slog.Debug("ignoring malformed undo", "error", err)
		return nil
	}
	if inner.Actor != "" && inner.Actor != activity.Actor {
		slog.Debug("ignoring undo whose inner actor does not match outer actor", "outer", activity.Actor, "inner", inner.Actor)
		return nil
	}

	switch inner.Type {
	case "Follow":
		if err := p.Followers.RemoveFollowerByFollowURI(inner.ID); err != nil {
			return Internal("remove follower", err)
		}
		return nil
	case "Like", "Announce":
		// No durable per-liker/per-booster relation is kept for inbound
		// Like/Announce beyond the notification already delivered, so
		// there is nothing to retract; log and move on.
		slog.Debug("undo of like/announce has no durable record to remove", "type", inner.Type)
		return nil
	default:
		slog.Debug("ignoring undo of unhandled inner type", "type", inner.Type)
		return nil
	}
}

// ─── Accept / Reject ────────────────────────────────────────────────────

func (p *Processor) handleAccept(ctx context.Context, activity activitypub.IncomingActivity) error {
	followActor, _, ok := parseFollowObject(activity.Object)
	if !ok || followActor != p.LocalActorURI {
		return nil
	}
	slog.Info("outbound follow accepted", "by", activity.Actor)
	return nil
}

func (p *Processor) handleReject(ctx context.Context, activity activitypub.IncomingActivity) error {
	followActor, followedID, ok := parseFollowObject(activity.Object)
	if !ok || followActor != p.LocalActorURI {
		return nil
	}
	slog.Info("outbound follow rejected", "by", activity.Actor)
	if err := p.Followers.RemoveFollow(followedID); err != nil {
		slog.Warn("failed to remove follow after reject", "error", err)
	}
	return nil
}

// parseFollowObject extracts the actor/object of an embedded Follow from
// an Accept/Reject payload. Some servers send only the Follow activity id
// as a bare string; ok is false in that case since there is nothing to
// correlate against the local actor.
func parseFollowObject(raw json.RawMessage) (followActor, followObject string, ok bool) {
	var inner activitypub.IncomingActivity
	if err := json.Unmarshal(raw, &inner); err != nil || inner.Type != "Follow" {
		return "", "", false
	}
	if err := json.Unmarshal(inner.Object, &followObject); err != nil {
		return "", "", false
	}
	return inner.Actor, followObject, true
}

// ─── Update / Delete ────────────────────────────────────────────────────

func (p *Processor) handleUpdate(ctx context.Context, activity activitypub.IncomingActivity) error {
	var objMap map[string]interface{}
	if err := json.Unmarshal(activity.Object, &objMap); err != nil {
		return Validation("parse update object", err)
	}
	objType, _ := objMap["type"].(string)

	if objType == "Person" || objType == "Service" {
		address := addressFor(nil, host(activity.Actor))
		p.Profiles.Invalidate(address)
		if actorDoc, err := FetchActor(ctx, activity.Actor); err == nil && actorDoc != nil {
			p.Profiles.Put(actorProfileEntry(actorDoc, host(activity.Actor)))
		}
		return nil
	}

	// Note/Article update: only affects content we have chosen to persist.
	uri, _ := objMap["id"].(string)
	if uri == "" {
		return nil
	}
	existing, err := p.Statuses.GetStatusByURI(uri)
	if err != nil {
		return Internal("lookup status for update", err)
	}
	if existing == nil {
		return nil // never persisted locally; nothing to update
	}
	var note activitypub.Note
	if err := json.Unmarshal(activity.Object, &note); err != nil {
		return Validation("parse updated note", err)
	}
	note.Content = p.sanitizer.Sanitize(note.Content)
	existing.Content = note.Content
	existing.ContentWarning = note.Summary
	if err := p.Statuses.UpsertStatus(existing); err != nil {
		return Internal("update status", err)
	}
	p.Timeline.Invalidate(existing.ID)
	return nil
}

func (p *Processor) handleDelete(ctx context.Context, activity activitypub.IncomingActivity) error {
	var uri string
	if err := json.Unmarshal(activity.Object, &uri); err != nil {
		var tombstone map[string]interface{}
		if err2 := json.Unmarshal(activity.Object, &tombstone); err2 != nil {
			return Validation("parse delete object", err)
		}
		uri, _ = tombstone["id"].(string)
	}
	if uri == "" {
		return Validation("delete object has no id", nil)
	}

	existing, err := p.Statuses.GetStatusByURI(uri)
	if err != nil {
		return Internal("lookup status for delete", err)
	}
	if existing == nil {
		return nil
	}
	if err := p.Statuses.DeleteMediaForStatus(existing.ID); err != nil {
		slog.Warn("failed to delete media for deleted status", "error", err)
	}
	if err := p.Statuses.DeleteStatusByURI(uri); err != nil {
		return Internal("delete status", err)
	}
	p.Timeline.Invalidate(existing.ID)
	return nil
}

// ─── Shared helpers ──────────────────────────────────────────────────────

func actorHost(actorURI string) (string, error) {
	u, err := url.Parse(actorURI)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("actor URI %q has no host", actorURI)
	}
	return u.Host, nil
}

func host(actorURI string) string {
	h, _ := actorHost(actorURI)
	return h
}

// addressFor builds the handle@host address spec §3 uses as the stable key
// for followers/follows/profile cache. actorDoc may be nil if the actor
// document could not be fetched; the host-only fallback still lets
// notifications and follower rows be recorded.
func addressFor(actorDoc *activitypub.Actor, actorHost string) string {
	if actorDoc != nil && actorDoc.PreferredUsername != "" {
		return actorDoc.PreferredUsername + "@" + actorHost
	}
	return "@" + actorHost
}

func actorProfileEntry(a *activitypub.Actor, actorHost string) store.ProfileEntry {
	e := store.ProfileEntry{
		Address:     addressFor(a, actorHost),
		DisplayName: a.Name,
		Bio:         htmlToText(a.Summary),
		InboxURI:    a.Inbox,
		FetchedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if a.Icon != nil {
		e.AvatarURL = a.Icon.URL
	}
	if a.Image != nil {
		e.HeaderURL = a.Image.URL
	}
	if a.PublicKey != nil {
		e.PublicKeyPEM = a.PublicKey.PublicKeyPem
	}
	if a.Endpoints != nil {
		e.SharedInboxURI = a.Endpoints.SharedInbox
	}
	return e
}

// htmlToText converts AP HTML content to plain text for storage in the
// profile cache's bio field, decoding entities via the standard tokenizer.
// Grounded on the teacher's htmlToText in internal/ap/handler.go.
func htmlToText(h string) string {
	z := html.NewTokenizer(strings.NewReader(h))
	var sb strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			sb.WriteString(html.UnescapeString(string(z.Raw())))
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "br", "div", "li":
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
