// Package server wires the webhook into an HTTP server.
//
// # Routes
//
//	GET <health_path>   200 "healthy"
//	anything else       webhook ingest
//
// # Lifecycle
//
// New builds the tenant router, the optional Telegram notifier, the dedupe
// cache and the report scheduler from config. Run listens on
// server.http_addr, or on a tsnet node when tailscale is enabled (Funnel
// gives Telegram a public HTTPS endpoint), and blocks until the context is
// canceled. Shutdown drains in-flight requests and acknowledgements, then
// closes every tenant store.
package server
