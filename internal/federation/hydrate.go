package federation

import (
	"context"
	"log/slog"
	"time"

	"github.com/rustresort/rustresort/internal/store"
)

// ProfileSource lists the addresses whose profiles are worth hydrating:
// the union of everyone the local actor follows and everyone following it.
type ProfileSource interface {
	FollowerAddresses() ([]string, error)
	FollowedAddresses() ([]string, error)
}

// ProfileSink accepts hydrated profile entries; *store.ProfileCache
// satisfies it directly.
type ProfileSink interface {
	Put(e store.ProfileEntry)
}

// ProfileHydrator populates the profile cache at startup and periodically
// refreshes it, per spec §4.6 ("hydrated at startup from the union of
// follow/follower addresses; parallel fetches tolerate individual
// failures"). Grounded on the teacher's AccountResyncer in
// internal/ap/resync.go — same ticker-plus-manual-trigger shape, retargeted
// from "re-fetch actor URLs and republish kind-0 Nostr metadata" to
// "re-fetch addresses via WebFinger and refresh the profile cache".
type ProfileHydrator struct {
	Source ProfileSource
	Cache  ProfileSink

	// Interval between automatic re-hydrations. Defaults to 6h if zero.
	Interval time.Duration
	// TriggerCh, if non-nil, causes an immediate hydration pass when sent to.
	TriggerCh <-chan struct{}

	// Concurrency bounds how many WebFinger+actor fetches run at once.
	// Defaults to 8 if zero.
	Concurrency int
}

// Start runs an immediate hydration pass, then repeats on Interval (or on
// TriggerCh) until ctx is cancelled. Unlike AccountResyncer, RustResort
// does hydrate once at startup — spec §4.6 calls for eager population, not
// a cold cache until the first tick.
func (h *ProfileHydrator) Start(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	h.HydrateAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.HydrateAll(ctx)
		case <-h.TriggerCh:
			h.HydrateAll(ctx)
		}
	}
}

// HydrateAll fetches every known address's profile concurrently, bounded
// by Concurrency, tolerating individual failures per address.
func (h *ProfileHydrator) HydrateAll(ctx context.Context) {
	addrs, err := h.addresses()
	if err != nil {
		slog.Warn("profile hydration: failed to list addresses", "error", err)
		return
	}
	if len(addrs) == 0 {
		return
	}

	concurrency := h.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := make(chan struct{}, concurrency)
	done := make(chan bool)

	for _, addr := range addrs {
		addr := addr
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			err := h.hydrateOne(ctx, addr)
			if err != nil {
				slog.Debug("profile hydration: address failed", "address", addr, "error", err)
			}
			done <- err == nil
		}()
	}
	ok := 0
	for range addrs {
		if <-done {
			ok++
		}
	}
	slog.Info("profile hydration complete", "addresses", len(addrs), "ok", ok)
}

func (h *ProfileHydrator) addresses() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(addrs []string, err error) error {
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if _, dup := seen[a]; !dup {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
		return nil
	}
	if err := add(h.Source.FollowerAddresses()); err != nil {
		return nil, err
	}
	if err := add(h.Source.FollowedAddresses()); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *ProfileHydrator) hydrateOne(ctx context.Context, address string) error {
	actorURL, err := WebFingerResolve(ctx, address)
	if err != nil {
		return err
	}
	actor, err := FetchActor(ctx, actorURL)
	if err != nil {
		return err
	}
	h.Cache.Put(actorProfileEntry(actor, host(actorURL)))
	return nil
}
