package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qupskd/qupskd/chain"
	"github.com/qupskd/qupskd/exchange"
	"github.com/qupskd/qupskd/peerapi"
	"github.com/qupskd/qupskd/qkd"
)

type discardSink struct{}

func (discardSink) Put(ctx context.Context, secret chain.DerivedSecret) error { return nil }
func (discardSink) Name() string                                              { return "discard" }

type storeClient struct {
	store *qkd.Store
}

func (c *storeClient) Mint(ctx context.Context) (qkd.Material, error) {
	return c.store.Mint()
}

func (c *storeClient) Redeem(ctx context.Context, keyID string) (qkd.Material, error) {
	return c.store.Redeem(keyID)
}

func newTestServer(t *testing.T, qkdHandler *qkd.Handler) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := qkd.NewStore(8)
	responder := exchange.NewExchanger(exchange.Relationship{
		ID:          "a-b",
		Alias:       "b",
		Role:        exchange.RoleResponder,
		ConfirmWait: time.Minute,
	}, &storeClient{store}, nil, discardSink{}, logger)

	manager := exchange.NewManager()
	require.NoError(t, manager.Add(responder))

	srv, err := New(&HTTPServerConfig{
		ListenAddr:    "127.0.0.1:0",
		Log:           logger,
		DrainDuration: time.Millisecond,
	}, peerapi.NewHandler(manager, logger), qkdHandler)
	require.NoError(t, err)
	return srv
}

func execRequest(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestServer(t, nil).getRouter()

	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodGet, "/livez").Code)
	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodGet, "/readyz").Code)
}

func TestDrainUndrain(t *testing.T) {
	router := newTestServer(t, nil).getRouter()

	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodGet, "/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, execRequest(router, http.MethodGet, "/readyz").Code)

	// Draining only affects readiness, never the peer protocol.
	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodPost, "/api/v1/peer/a-b/new").Code)

	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodGet, "/undrain").Code)
	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodGet, "/readyz").Code)
}

func TestPeerRoutesMounted(t *testing.T) {
	router := newTestServer(t, nil).getRouter()

	assert.Equal(t, http.StatusOK, execRequest(router, http.MethodPost, "/api/v1/peer/a-b/new").Code)
	assert.Equal(t, http.StatusNotFound, execRequest(router, http.MethodPost, "/api/v1/peer/nobody/new").Code)
}

func TestFakeQKDRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Disabled unless a QKD handler is provided.
	router := newTestServer(t, nil).getRouter()
	assert.Equal(t, http.StatusNotFound,
		execRequest(router, http.MethodGet, "/api/v1/keys/sae-b/enc_keys?number=1").Code)

	router = newTestServer(t, qkd.NewHandler(qkd.NewStore(4), logger)).getRouter()
	assert.Equal(t, http.StatusOK,
		execRequest(router, http.MethodGet, "/api/v1/keys/sae-b/enc_keys?number=1").Code)
}
