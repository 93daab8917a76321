// ABOUTME: tsnet listener setup for serving the webhook on a tailnet
// ABOUTME: Funnel exposes public HTTPS on :443, otherwise plain HTTP on :80

package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-webhook/internal/config"
)

// tailscaleStateDir is where the node keeps its keys between runs. Without
// tailscale.state_dir it lives next to other coven data:
// $XDG_DATA_HOME/coven-webhook/tailscale, or ~/.local/share/... when unset.
func tailscaleStateDir(cfg config.TailscaleConfig) (string, error) {
	if cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "coven-webhook", "tailscale"), nil
}

// newTailscaleNode builds an unstarted tsnet node from cfg. The auth key falls
// back to TS_AUTHKEY; a node with neither cannot join the tailnet unattended.
func newTailscaleNode(cfg config.TailscaleConfig) (*tsnet.Server, error) {
	stateDir, err := tailscaleStateDir(cfg)
	if err != nil {
		return nil, err
	}

	authKey := cmp.Or(cfg.AuthKey, os.Getenv("TS_AUTHKEY"))
	if authKey == "" {
		return nil, errors.New("tailscale.auth_key or TS_AUTHKEY must be set")
	}

	return &tsnet.Server{
		Hostname: cfg.Hostname,
		Dir:      stateDir,
		AuthKey:  authKey,
	}, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	ts, err := newTailscaleNode(tsCfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", ts.Dir, "funnel", tsCfg.Funnel)
	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(status)

	var ln net.Listener
	if tsCfg.Funnel {
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = ts.ListenFunnel("tcp", ":443")
	} else {
		ln, err = ts.Listen("tcp", ":80")
	}
	if err != nil {
		_ = ts.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}

	s.tsnetServer = ts
	return ln, nil
}

// logTailscaleStatus reports the node's address and, with Funnel, the public
// URL to register with Telegram's setWebhook.
func (s *Server) logTailscaleStatus(status *ipnstate.Status) {
	attrs := []any{"hostname", s.config.Tailscale.Hostname}
	if len(status.TailscaleIPs) == 0 {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	} else {
		attrs = append(attrs, "tailscale_ip", status.TailscaleIPs[0].String())
	}
	if url := webhookURL(status, s.config.Tailscale.Funnel); url != "" {
		attrs = append(attrs, "webhook_url", url)
	}
	s.logger.Info("tailscale node ready", attrs...)
}

// webhookURL is the externally reachable base URL of the node, or "" when
// the node has no DNS name yet.
func webhookURL(status *ipnstate.Status, funnel bool) string {
	if status.Self == nil || status.Self.DNSName == "" {
		return ""
	}
	host := strings.TrimSuffix(status.Self.DNSName, ".")
	if funnel {
		return "https://" + host + "/"
	}
	return "http://" + host + "/"
}
