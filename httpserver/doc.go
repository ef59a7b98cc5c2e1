/*
Package httpserver implements the HTTP surface of a qupskd instance.

It hosts the peer protocol endpoint that carries key exchange messages
between two instances, optionally a simulated ETSI GS QKD 014 key delivery
API for setups without QKD hardware, and the usual health and diagnostics
endpoints. Prometheus metrics are served on a separate listener.

# Endpoints

  - POST /api/v1/peer/{relationship}/new - open a relationship from scratch
  - POST /api/v1/peer/{relationship}/rotate - advance an established relationship
  - POST /api/v1/peer/{relationship}/confirm - finalize the pending round
  - GET /api/v1/keys/{sae_id}/enc_keys - mint a key (fake QKD API, if enabled)
  - GET /api/v1/keys/{sae_id}/dec_keys - redeem a key (fake QKD API, if enabled)
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8454",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	server, err := httpserver.New(cfg, peerHandler, nil)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
