package server

import (
	"os"
	"path/filepath"

	"github.com/esmkit/devkit/client"
)

// EmbedFS is the minimal surface the router needs to serve the client
// runtime bundle. client.FS satisfies it directly in a release binary; in
// dev mode devFS reads straight off disk so editing client/client.js
// doesn't require a rebuild of devkit itself.
type EmbedFS interface {
	ReadFile(name string) ([]byte, error)
}

func defaultEmbedFS() EmbedFS { return client.FS }

type devFS struct {
	root string
}

func (d *devFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, name))
}
