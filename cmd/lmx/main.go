// Package main is the single-binary entrypoint for LMX: the daemon, its
// CLI, and the isolated child-loader worker all live in this one binary,
// dispatched on os.Args[1].
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lmx-project/lmx/internal/cli"
	"github.com/lmx-project/lmx/internal/daemon"
	"github.com/lmx-project/lmx/internal/infra/engine"
	"github.com/lmx-project/lmx/internal/infra/loader"
	"github.com/lmx-project/lmx/internal/infra/modelstore"
	"github.com/lmx-project/lmx/internal/infra/sqlite"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == loader.WorkerFlag {
		os.Exit(runLoaderWorker())
	}
	cli.Execute(version)
}

// runLoaderWorker is the re-exec'd child loader entrypoint. It opens its
// own handle onto the same model store the parent daemon uses — safe
// because the state database runs in WAL mode — and canary-loads exactly
// the one (model, backend) pair described on stdin.
func runLoaderWorker() int {
	home := daemon.LMXHome()

	db, err := sqlite.Open(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lmx loader worker: open database: %v\n", err)
		return 1
	}
	defer db.Close()

	modelsDir := filepath.Join(home, "models")
	mgr := modelstore.NewManager(modelsDir, db)

	resolve := func(modelID string) (string, error) { return mgr.Resolve(modelID) }
	paths := engine.Paths{LMXHome: home}
	factory := engine.NewBackendFactory(resolve, paths)

	return loader.RunWorker(context.Background(), os.Stdin, os.Stdout, factory)
}
