package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"trustmesh/go-backend/pkg/models"
)

func newTestService(t *testing.T, net Network) *Service {
	t.Helper()
	if err := net.Start(context.Background()); err != nil {
		t.Fatalf("start network: %v", err)
	}
	dir := t.TempDir()
	fallback := NewFallbackStore()
	fallback.Configure(filepath.Join(dir, "fallback.bin"), "test-secret")
	if err := fallback.Bootstrap(); err != nil {
		t.Fatalf("bootstrap fallback store: %v", err)
	}
	locators := NewLocatorIndex()
	locators.Configure(filepath.Join(dir, "locators.bin"), "test-secret")
	if err := locators.Bootstrap(); err != nil {
		t.Fatalf("bootstrap locator index: %v", err)
	}

	svc := New(net, fallback, locators, DefaultConfig(), slog.Default())
	svc.SetSleepForTest(func(context.Context, time.Duration) error { return nil })
	return svc
}

func TestAddressIsDeterministic(t *testing.T) {
	data := []byte(`{"credential":"diploma"}`)
	first := Address(data)
	second := Address(data)
	if first != second {
		t.Fatalf("same bytes produced different addresses: %s vs %s", first, second)
	}
	if Address([]byte("other")) == first {
		t.Fatal("different bytes produced the same address")
	}
	if !ValidAddress(first) {
		t.Fatalf("generated address failed validation: %s", first)
	}
}

func TestValidAddressVariants(t *testing.T) {
	addr := Address([]byte("payload"))
	cases := map[string]bool{
		addr:                          true,
		"ipfs://" + addr:              true,
		"https://gw.example/ipfs/" + addr: true,
		"  " + addr + "  ":            true,
		"":                            false,
		"not-base58-0OIl":             false,
		"ipfs://":                     false,
		Address([]byte("x"))[1:]:      false,
	}
	for input, want := range cases {
		if got := ValidAddress(input); got != want {
			t.Errorf("ValidAddress(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestStorePublishesAndIndexes(t *testing.T) {
	net := NewMemoryNetwork()
	svc := newTestService(t, net)

	data := []byte("credential offer payload")
	locator, err := svc.Store(context.Background(), "did:example:alice", data, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if locator.Fallback {
		t.Fatal("successful publish must not be marked as fallback")
	}
	if locator.Address != Address(data) {
		t.Fatalf("locator address mismatch: %s", locator.Address)
	}

	got, err := svc.Retrieve(context.Background(), "did:example:alice", locator.Address)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("retrieved payload mismatch: %q", got)
	}
}

func TestStoreFallsBackAfterRetryBudget(t *testing.T) {
	net := NewMemoryNetwork()
	net.FailNextPublishes(3)
	svc := newTestService(t, net)

	data := []byte("offer for an offline peer")
	locator, err := svc.Store(context.Background(), "did:example:bob", data, nil)
	if err != nil {
		t.Fatalf("store should degrade to fallback, got: %v", err)
	}
	if !locator.Fallback {
		t.Fatal("exhausted retries must produce a fallback locator")
	}

	// The network never saw the content, but the local path serves it.
	got, err := svc.Retrieve(context.Background(), "did:example:bob", locator.Address)
	if err != nil {
		t.Fatalf("retrieve from fallback: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("fallback payload mismatch: %q", got)
	}
}

func TestStoreRecoversWithinRetryBudget(t *testing.T) {
	net := NewMemoryNetwork()
	net.FailNextPublishes(2)
	svc := newTestService(t, net)

	locator, err := svc.Store(context.Background(), "did:example:carol", []byte("third attempt lands"), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if locator.Fallback {
		t.Fatal("publish succeeded on the final attempt but locator is fallback")
	}
}

func TestRetrieveMissingContent(t *testing.T) {
	svc := newTestService(t, NewMemoryNetwork())
	_, err := svc.Retrieve(context.Background(), "did:example:alice", Address([]byte("never stored")))
	if !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestRetrieveAllMergesNetworkAndFallback(t *testing.T) {
	net := NewMemoryNetwork()
	svc := newTestService(t, net)
	owner := "did:example:alice"

	if _, err := svc.Store(context.Background(), owner, []byte("published"), nil); err != nil {
		t.Fatalf("store published: %v", err)
	}
	net.FailNextPublishes(3)
	if _, err := svc.Store(context.Background(), owner, []byte("stranded"), nil); err != nil {
		t.Fatalf("store stranded: %v", err)
	}

	items := svc.RetrieveAll(context.Background(), owner)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	byAddr := map[string]Item{}
	for _, item := range items {
		byAddr[item.Locator.Address] = item
	}
	if item, ok := byAddr[Address([]byte("stranded"))]; !ok || !item.Locator.Fallback {
		t.Fatal("fallback-stored item missing or untagged")
	}
	if item, ok := byAddr[Address([]byte("published"))]; !ok || item.Locator.Fallback {
		t.Fatal("network-stored item missing or mistagged")
	}
}

func TestFetchInboxDeliversCrossParty(t *testing.T) {
	// Sender and recipient share the network but not fallback stores.
	net := NewMemoryNetwork()
	sender := newTestService(t, net)
	recipient := newTestService(t, net)

	data := []byte("offer addressed to bob")
	if _, err := sender.Store(context.Background(), "did:example:bob", data, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	items := recipient.FetchInbox(context.Background(), "did:example:bob", time.Time{})
	if len(items) != 1 {
		t.Fatalf("expected 1 inbox item, got %d", len(items))
	}
	if string(items[0].Data) != string(data) {
		t.Fatalf("inbox payload mismatch: %q", items[0].Data)
	}

	// A second sync must not duplicate the delivery.
	again := recipient.FetchInbox(context.Background(), "did:example:bob", time.Time{})
	if len(again) != 1 {
		t.Fatalf("expected dedup on second sync, got %d items", len(again))
	}
}

func TestFallbackStoreEvictsOldestPastCap(t *testing.T) {
	store := NewFallbackStore()
	owner := "did:example:alice"
	for i := 0; i < fallbackCap+10; i++ {
		data := []byte(fmt.Sprintf("entry-%d", i))
		if _, err := store.Put(owner, Address(data), data); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	entries := store.List(owner)
	if len(entries) != fallbackCap {
		t.Fatalf("expected %d entries after eviction, got %d", fallbackCap, len(entries))
	}
	if _, ok := store.Get(owner, Address([]byte("entry-0"))); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := store.Get(owner, Address([]byte(fmt.Sprintf("entry-%d", fallbackCap+9)))); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestFallbackStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallback.bin")

	store := NewFallbackStore()
	store.Configure(path, "secret")
	if err := store.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	data := []byte("persisted entry")
	if _, err := store.Put("did:example:alice", Address(data), data); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened := NewFallbackStore()
	reopened.Configure(path, "secret")
	if err := reopened.Bootstrap(); err != nil {
		t.Fatalf("bootstrap after restart: %v", err)
	}
	if _, ok := reopened.Get("did:example:alice", Address(data)); !ok {
		t.Fatal("entry lost across restart")
	}
}

func TestLocatorIndexDedupAndCredentialFilter(t *testing.T) {
	idx := NewLocatorIndex()
	if err := idx.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	owner := "did:example:alice"
	addr := Address([]byte("one"))

	loc := locatorForTest(owner, addr, nil)
	if err := idx.Add(loc); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(loc); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if got := len(idx.List(owner)); got != 1 {
		t.Fatalf("expected dedup to 1 locator, got %d", got)
	}

	withRef := locatorForTest(owner, Address([]byte("two")), strPtr("UniversityDegree"))
	if err := idx.Add(withRef); err != nil {
		t.Fatalf("add credential locator: %v", err)
	}
	creds := idx.Credentials(owner)
	if len(creds) != 1 || creds[0].Address != withRef.Address {
		t.Fatalf("credential filter returned %d locators", len(creds))
	}
}

func TestConnectionStatusTracksNetwork(t *testing.T) {
	net := NewMemoryNetwork()
	svc := newTestService(t, net)

	status := svc.ConnectionStatus()
	if !status.Connected || status.PeerCount != 1 {
		t.Fatalf("expected connected with 1 peer, got %+v", status)
	}

	net.SetOffline(true)
	status = svc.ConnectionStatus()
	if status.Connected || status.PeerCount != 0 {
		t.Fatalf("expected disconnected, got %+v", status)
	}
}

func locatorForTest(owner, address string, credType *string) models.ContentLocator {
	loc := models.ContentLocator{
		Address:       address,
		OwnerIdentity: owner,
		CreatedAt:     time.Now().UTC(),
	}
	if credType != nil {
		loc.CredentialRef = &models.VCReference{Type: *credType, Issuer: owner}
	}
	return loc
}

func strPtr(s string) *string { return &s }

func TestStoreFailsWhenBothPathsFail(t *testing.T) {
	net := NewMemoryNetwork()
	net.FailNextPublishes(3)
	svc := newTestService(t, net)
	// Point the fallback store at an unwritable path.
	svc.fallback.Configure(filepath.Join(t.TempDir(), "missing", "\x00bad"), "secret")

	_, err := svc.Store(context.Background(), "did:example:alice", []byte("doomed"), nil)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}
