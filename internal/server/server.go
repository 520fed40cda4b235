// Package server implements RustResort's inbox/outbox HTTP boundary (spec
// §4.7, §6): the thin translation layer between wire requests and the
// federation core in internal/federation. It owns no federation logic of
// its own — it calls federation.VerifyRequest, the federation.RateLimiter,
// and *federation.Processor in turn — and serves the public discovery endpoints
// (actor, outbox, followers/following, WebFinger, NodeInfo) a real
// Fediverse peer needs to federate with the local actor at all.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rustresort/rustresort/internal/activitypub"
	"github.com/rustresort/rustresort/internal/config"
	"github.com/rustresort/rustresort/internal/federation"
	"github.com/rustresort/rustresort/internal/store"
)

const (
	activityJSONType = `application/activity+json`
	version          = "1.0.0"
	maxBodyBytes     = 1 << 20 // 1MB — inbound activities are small JSON documents
)

// Store is the subset of *store.Store the HTTP boundary reads directly for
// collection/outbox rendering. The federation core depends on its own
// narrower interfaces (federation.StatusStore, federation.FollowerStore, …);
// this one is wider because the boundary also paginates.
type Store interface {
	FollowerAddresses() ([]string, error)
	FollowedAddresses() ([]string, error)
	ListLocalOutbox(limit int, beforeID string) ([]*store.Status, error)
	CountLocalOutbox() (int, error)
	GetStatusByURI(uri string) (*store.Status, error)
}

// Server is RustResort's HTTP server: the inbox/outbox boundary wired to
// the federation core. Grounded on the teacher's chi-routed
// internal/server/server.go (router construction, logging/CORS middleware,
// responseWriter wrapper), with the Nostr/Bluesky bridge surface replaced
// by the ActivityPub-only inbox/outbox/discovery handlers spec §4.7 and §6
// require.
type Server struct {
	cfg       *config.Config
	store     Store
	keyPair   *federation.KeyPair
	processor *federation.Processor
	resolver  federation.KeyResolver
	limiter   *federation.RateLimiter

	router    *chi.Mux
	startedAt time.Time
}

// New builds a Server and its route table.
func New(cfg *config.Config, st Store, keyPair *federation.KeyPair, processor *federation.Processor, resolver federation.KeyResolver, limiter *federation.RateLimiter) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		keyPair:   keyPair,
		processor: processor,
		resolver:  resolver,
		limiter:   limiter,
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP lets *Server itself be used as an http.Handler (httptest, or an
// embedding caller that wants its own *http.Server).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the HTTP server until ctx is cancelled, draining in-flight
// requests on shutdown exactly as the teacher's Start does.
func (s *Server) Start(ctx context.Context) {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // matches spec §5's outbound-POST-adjacent budget for slow signature verification
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr, "domain", s.cfg.LocalDomain)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	// Discovery.
	r.Get("/.well-known/webfinger", s.handleWebFinger)
	r.Get("/.well-known/host-meta", s.handleHostMeta)
	r.Get("/.well-known/nodeinfo", s.handleNodeInfo)
	r.Get("/nodeinfo/{version}", s.handleNodeInfoSchema)

	// ActivityPub actor surface (spec §6).
	r.Get("/users/{handle}", s.handleActor)
	r.Get("/users/{handle}/followers", s.handleFollowers)
	r.Get("/users/{handle}/following", s.handleFollowing)
	r.Get("/users/{handle}/outbox", s.handleOutbox)
	r.Get("/users/{handle}/statuses/{id}", s.handleStatus)
	r.Post("/users/{handle}/inbox", s.handleInbox)
	r.Post("/inbox", s.handleInbox)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "RustResort — a single-user ActivityPub server.\nRunning on %s\n", s.cfg.LocalDomain)
	})

	return r
}

// ─── Actor & collections ──────────────────────────────────────────────────

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}

	actorURL := s.cfg.ActorURI()
	actor := &activitypub.Actor{
		ID:                actorURL,
		Type:              "Person",
		PreferredUsername: handle,
		Name:              s.cfg.ActorDisplayName,
		Summary:           s.cfg.ActorSummary,
		Inbox:             actorURL + "/inbox",
		Outbox:            actorURL + "/outbox",
		Followers:         actorURL + "/followers",
		Following:         actorURL + "/following",
		PublicKey: &activitypub.PublicKey{
			ID:           actorURL + "#main-key",
			Owner:        actorURL,
			PublicKeyPem: s.keyPair.PublicPEM,
		},
		Endpoints: &activitypub.Endpoints{
			SharedInbox: s.cfg.BaseURL("/inbox"),
		},
	}
	apResponse(w, activitypub.WithContext(actor))
}

// handleFollowers and handleFollowing serialize the stored counterparty
// addresses (handle@host) as orderedItems. Per spec §3, Follower/Follow
// rows intentionally retain only the address, the Follow activity URI, and
// — for Follower — the delivery inbox: no remote actor URI is persisted,
// so these collections cannot list canonical actor ids the way a full
// Mastodon-compatible server would; they list the address strings the
// core actually keeps.
func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}
	addrs, err := s.store.FollowerAddresses()
	if err != nil {
		slog.Error("list followers", "error", err)
		addrs = nil
	}
	s.writeAddressCollection(w, s.cfg.ActorURI()+"/followers", addrs)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}
	addrs, err := s.store.FollowedAddresses()
	if err != nil {
		slog.Error("list following", "error", err)
		addrs = nil
	}
	s.writeAddressCollection(w, s.cfg.ActorURI()+"/following", addrs)
}

func (s *Server) writeAddressCollection(w http.ResponseWriter, id string, addrs []string) {
	items := make([]interface{}, len(addrs))
	for i, a := range addrs {
		items[i] = a
	}
	apResponse(w, activitypub.OrderedCollection{
		Context:      activitypub.DefaultContext,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	})
}

const outboxPageSize = 20

// handleOutbox serves the paginated OrderedCollection of local
// public/unlisted statuses, ordered by created-at (spec §4.7, §6).
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}
	actorURL := s.cfg.ActorURI()
	outboxURL := actorURL + "/outbox"

	if r.URL.Query().Get("page") != "true" {
		count, err := s.store.CountLocalOutbox()
		if err != nil {
			slog.Warn("outbox: count failed", "error", err)
		}
		apResponse(w, map[string]interface{}{
			"@context":   activitypub.DefaultContext,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": count,
			"first":      outboxURL + "?page=true",
		})
		return
	}

	beforeID := r.URL.Query().Get("max_id")
	statuses, err := s.store.ListLocalOutbox(outboxPageSize, beforeID)
	if err != nil {
		slog.Warn("outbox: page fetch failed", "error", err)
	}

	items := make([]interface{}, 0, len(statuses))
	var nextID string
	for _, st := range statuses {
		items = append(items, activitypub.BuildCreate(statusToNote(st, actorURL)))
		nextID = st.ID
	}

	page := map[string]interface{}{
		"@context":     activitypub.DefaultContext,
		"id":           outboxURL + "?page=true",
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if len(statuses) == outboxPageSize && nextID != "" {
		page["next"] = outboxURL + "?page=true&max_id=" + nextID
	}
	apResponse(w, page)
}

// handleStatus resolves a local status's canonical URI so remote peers
// that only hold the id (e.g. from inReplyTo) can GET the object directly,
// rather than relying solely on what was pushed to their inbox.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}
	uri := s.cfg.BaseURL("/users/" + handle + "/statuses/" + chi.URLParam(r, "id"))
	st, err := s.store.GetStatusByURI(uri)
	if err != nil {
		slog.Error("lookup status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if st == nil || !st.IsLocal {
		http.NotFound(w, r)
		return
	}
	apResponse(w, activitypub.WithContext(statusToNote(st, s.cfg.ActorURI())))
}

func statusToNote(st *store.Status, actorURL string) *activitypub.Note {
	note := &activitypub.Note{
		Context:      activitypub.DefaultContext,
		ID:           st.URI,
		Type:         "Note",
		AttributedTo: actorURL,
		Content:      st.Content,
		Published:    st.CreatedAt,
		InReplyTo:    st.InReplyToURI,
		Summary:      st.ContentWarning,
		Sensitive:    st.ContentWarning != "",
	}
	to, cc := federation.AddressFields(st.Visibility, actorURL+"/followers", nil, "")
	note.To, note.CC = to, cc
	return note
}

// ─── Inbox ─────────────────────────────────────────────────────────────

// handleInbox implements spec §4.7's pipeline: read the raw body, verify
// the HTTP signature, rate-limit the verified actor, then hand the parsed
// activity to the processor. Both the per-actor and shared inbox routes
// share this handler — RustResort is single-user, so there is no per-actor
// routing decision to make beyond the {handle} path check.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if handle := chi.URLParam(r, "handle"); handle != "" && handle != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	keyID, err := federation.VerifyRequest(r, body, s.resolver)
	if err != nil {
		s.writeFederationError(w, err, "inbox: signature verification failed")
		return
	}
	actor := strings.SplitN(keyID, "#", 2)[0]

	if !s.limiter.CheckAndIncrement(actor) {
		slog.Warn("inbox: rate limit exceeded", "actor", actor)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.processor.HandleActivity(ctx, json.RawMessage(body), actor); err != nil {
		s.writeFederationError(w, err, "inbox: activity processing failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// writeFederationError maps a federation.Error's Kind to the HTTP status
// spec §7 specifies. Non-federation errors (a bug surface) fall back to 500.
func (s *Server) writeFederationError(w http.ResponseWriter, err error, logMsg string) {
	status := http.StatusInternalServerError
	switch federation.AsKind(err) {
	case federation.KindUnauthorized:
		status = http.StatusUnauthorized
	case federation.KindValidation:
		status = http.StatusBadRequest
	case federation.KindForbidden:
		status = http.StatusForbidden
	case federation.KindRateLimited:
		status = http.StatusTooManyRequests
	case federation.KindNotFound:
		status = http.StatusNotFound
	case federation.KindFederation:
		status = http.StatusBadGateway
	}
	level := slog.LevelWarn
	if status == http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, logMsg, "error", err, "status", status)
	http.Error(w, err.Error(), status)
}

// ─── Discovery ────────────────────────────────────────────────────────

func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "missing resource", http.StatusBadRequest)
		return
	}
	acct := strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(acct, "@", 2)
	if len(parts) != 2 {
		http.Error(w, "invalid resource", http.StatusBadRequest)
		return
	}
	user, host := parts[0], parts[1]
	if host != s.cfg.URL().Host || user != s.cfg.ActorHandle {
		http.NotFound(w, r)
		return
	}

	actorURL := s.cfg.ActorURI()
	resp := activitypub.WebFingerResponse{
		Subject: resource,
		Aliases: []string{actorURL},
		Links: []activitypub.WebFingerLink{
			{Rel: "self", Type: activityJSONType, Href: actorURL},
		},
	}
	w.Header().Set("Content-Type", "application/jrd+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	cacheHeaders(w, 3600)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xrd+xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, s.cfg.LocalDomain)
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"links": []map[string]string{
			{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.1", "href": s.cfg.BaseURL("/nodeinfo/2.1")},
		},
	}
	cacheHeaders(w, 3600)
	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleNodeInfoSchema(w http.ResponseWriter, r *http.Request) {
	v := chi.URLParam(r, "version")
	if v != "2.0" && v != "2.1" {
		http.Error(w, "unsupported nodeinfo version", http.StatusNotFound)
		return
	}
	info := activitypub.NodeInfo{
		Version:   "2.1",
		Software:  activitypub.NodeInfoSoftware{Name: "rustresort", Version: version},
		Protocols: []string{"activitypub"},
		Usage: activitypub.NodeInfoUsage{
			// RustResort is single-user by design (spec §1 Non-goals exclude
			// multi-tenancy), so usage is always exactly one active account.
			Users: activitypub.NodeInfoUsers{Total: 1, ActiveMonth: 1, ActiveHalfYear: 1},
		},
		OpenRegistrations: false,
	}
	cacheHeaders(w, 3600)
	jsonResponse(w, info, http.StatusOK)
}

// ─── Utility ────────────────────────────────────────────────────────────

func apResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", activityJSONType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode AP response", "error", err)
	}
}

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func cacheHeaders(w http.ResponseWriter, maxAge int) {
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
