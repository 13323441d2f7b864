// Command bucketstore operates a bucket list store directly: inspecting
// levels, forcing a garbage collection sweep, seeding random ledgers, and
// rendering the level cascade as a graph. The command layout follows the
// teacher's cmd/rpcdaemon and cmd/headers root-command convention.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/config"
	"github.com/ledgerwatch/bucketstore/log"
	"github.com/ledgerwatch/bucketstore/manager"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "bucketstore",
	Short: "Inspect and operate a bucket list store",
}

func main() {
	config.BindFlags(rootCmd, cfg)
	rootCmd.AddCommand(inspectCmd, gcCmd, seedCmd, graphCmd, lookupCmd, refsCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func openManager() (*manager.BucketManager, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if cfg.FlushThreshold > 0 {
		bucket.DefaultFlushThreshold = datasize.ByteSize(cfg.FlushThreshold)
	}
	return manager.Open(context.Background(), manager.Config{
		Dir:           cfg.Dir,
		WorkerCount:   cfg.WorkerCount,
		GCMinInterval: cfg.GCMinInterval,
	})
}
