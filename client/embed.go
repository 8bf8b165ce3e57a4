// Package client embeds the browser-side HMR runtime that devkit injects
// into every served HTML page in dev mode.
package client

import "embed"

//go:embed client.js
var rawFS embed.FS

// FS exposes the embedded runtime with a plain ReadFile signature, so the
// server package can swap it for a disk-backed implementation in dev mode
// without depending on embed.FS directly.
var FS embedAdapter

type embedAdapter struct{}

func (embedAdapter) ReadFile(name string) ([]byte, error) {
	return rawFS.ReadFile(name)
}
