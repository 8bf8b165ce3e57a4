// Command devkit runs the devkit development server against a project
// directory, serving transformed ES modules with hot module replacement.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/esmkit/devkit/server"
)

func main() {
	var (
		port          int
		basePath      string
		cacheDir      string
		include       []string
		exclude       []string
		watchIgnore   []string
		watchDebounce time.Duration
		hmrHost       string
		hmrPort       int
		hmrDisabled   bool
		logLevel      string
	)

	root := &cobra.Command{
		Use:   "devkit [project-root]",
		Short: "Serve a project with on-demand transforms and hot module replacement",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectRoot := "."
			if len(args) == 1 {
				projectRoot = args[0]
			}
			cfg := server.Config{
				Root:     projectRoot,
				BasePath: strings.TrimSuffix(basePath, "/"),
				Optimize: server.OptimizeConfig{
					Include: include,
					Exclude: exclude,
				},
				WatchIgnore:   watchIgnore,
				WatchDebounce: watchDebounce,
				CacheDir:      cacheDir,
				HMRHost:       hmrHost,
				HMRPort:       hmrPort,
				HMRDisabled:   hmrDisabled,
				LogLevel:      logLevel,
			}
			return server.Serve(cfg, port)
		},
	}

	flags := root.Flags()
	flags.IntVar(&port, "port", 5173, "http server port")
	flags.StringVar(&basePath, "base", "", "public base path requests are served under")
	flags.StringVar(&cacheDir, "cache-dir", "", "dependency cache directory (default <root>/.devkit/cache)")
	flags.StringSliceVar(&include, "optimize-include", nil, "bare specifiers to force into the dependency pre-bundle")
	flags.StringSliceVar(&exclude, "optimize-exclude", nil, "glob patterns excluded from dependency pre-bundling")
	flags.StringSliceVar(&watchIgnore, "watch-ignore", nil, "gitignore-style patterns the file watcher should skip")
	flags.DurationVar(&watchDebounce, "watch-debounce", 0, "file-change debounce window (default 50ms)")
	flags.StringVar(&hmrHost, "hmr-host", "", "HMR websocket host (not read by the server; the client connects to the page's own host)")
	flags.IntVar(&hmrPort, "hmr-port", 0, "HMR websocket port (not read by the server; the websocket is served on the http server port)")
	flags.BoolVar(&hmrDisabled, "hmr-disabled", false, "disable the HMR websocket endpoint")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
