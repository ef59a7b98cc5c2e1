package peerapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qupskd/qupskd/chain"
	"github.com/qupskd/qupskd/exchange"
	"github.com/qupskd/qupskd/peerapi"
	"github.com/qupskd/qupskd/qkd"
)

type storeClient struct {
	store *qkd.Store
}

func (c *storeClient) Mint(ctx context.Context) (qkd.Material, error) {
	return c.store.Mint()
}

func (c *storeClient) Redeem(ctx context.Context, keyID string) (qkd.Material, error) {
	return c.store.Redeem(keyID)
}

type memSink struct {
	secrets []chain.DerivedSecret
}

func (s *memSink) Put(ctx context.Context, secret chain.DerivedSecret) error {
	s.secrets = append(s.secrets, secret)
	return nil
}

func (s *memSink) Name() string { return "mem" }

// setupPeerEndpoint serves a responder exchanger for one relationship over
// httptest and returns a peer client pointed at it.
func setupPeerEndpoint(t *testing.T) (*peerapi.Client, *exchange.Exchanger, *memSink, *qkd.Store) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := qkd.NewStore(8)
	sink := &memSink{}

	responder := exchange.NewExchanger(exchange.Relationship{
		ID:          "alpha-beta",
		Alias:       "beta",
		Role:        exchange.RoleResponder,
		ConfirmWait: time.Minute,
	}, &storeClient{store}, nil, sink, log)

	manager := exchange.NewManager()
	require.NoError(t, manager.Add(responder))

	router := chi.NewRouter()
	peerapi.NewHandler(manager, log).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return peerapi.NewClient(srv.URL), responder, sink, store
}

func TestRoundOverHTTP(t *testing.T) {
	client, responder, sink, store := setupPeerEndpoint(t)
	ctx := context.Background()

	keyID, err := client.RequestNew(ctx, "alpha-beta")
	require.NoError(t, err)
	require.NotEmpty(t, keyID)

	// The responder minted the key the initiator now redeems.
	material, err := store.Redeem(keyID)
	require.NoError(t, err)
	require.Len(t, material.Secret, qkd.KeySize)

	require.NoError(t, client.Confirm(ctx, "alpha-beta", 0))
	assert.Equal(t, uint64(1), responder.Generation())
	assert.Len(t, sink.secrets, 1)
}

func TestUnknownRelationship(t *testing.T) {
	client, _, _, _ := setupPeerEndpoint(t)
	ctx := context.Background()

	_, err := client.RequestNew(ctx, "nobody")
	assert.ErrorIs(t, err, exchange.ErrTransport, "404 is not a protocol violation")

	err = client.Confirm(ctx, "nobody", 0)
	assert.ErrorIs(t, err, exchange.ErrTransport)
}

func TestViolationMapsToConflict(t *testing.T) {
	client, _, _, _ := setupPeerEndpoint(t)
	ctx := context.Background()

	// Rotating a relationship with no established chain is refused.
	_, err := client.RequestRotate(ctx, "alpha-beta")
	assert.ErrorIs(t, err, exchange.ErrProtocolViolation)
	assert.False(t, exchange.IsRetryable(err))

	// So is confirming with no round pending.
	err = client.Confirm(ctx, "alpha-beta", 0)
	assert.ErrorIs(t, err, exchange.ErrProtocolViolation)
}

func TestDuplicateRequestOverHTTP(t *testing.T) {
	client, responder, _, _ := setupPeerEndpoint(t)
	ctx := context.Background()

	_, err := client.RequestNew(ctx, "alpha-beta")
	require.NoError(t, err)

	_, err = client.RequestNew(ctx, "alpha-beta")
	require.ErrorIs(t, err, exchange.ErrProtocolViolation)

	// The first round is still pending and confirmable.
	require.NoError(t, client.Confirm(ctx, "alpha-beta", 0))
	assert.Equal(t, uint64(1), responder.Generation())
}

func TestStaleGenerationOverHTTP(t *testing.T) {
	client, _, _, _ := setupPeerEndpoint(t)
	ctx := context.Background()

	_, err := client.RequestNew(ctx, "alpha-beta")
	require.NoError(t, err)

	err = client.Confirm(ctx, "alpha-beta", 41)
	assert.ErrorIs(t, err, exchange.ErrProtocolViolation)
}

func TestMalformedConfirmBody(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	peerapi.NewHandler(exchange.NewManager(), log).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/v1/peer/alpha-beta/confirm",
		"application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientUnreachablePeer(t *testing.T) {
	client := peerapi.NewClient("http://127.0.0.1:1")

	_, err := client.RequestNew(context.Background(), "alpha-beta")
	assert.ErrorIs(t, err, exchange.ErrTransport)
	assert.True(t, exchange.IsRetryable(err))
}
