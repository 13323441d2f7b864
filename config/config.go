// Package config holds the bucket store's runtime configuration and the
// cobra/pflag wiring the CLI uses to populate it, following the teacher's
// cmd/rpcdaemon/cli root-command convention.
package config

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/bucketstore/protocol"
)

// Config is the full set of runtime knobs for a bucket store process.
type Config struct {
	Dir            string
	Protocol       uint32
	ArchiveDBPath  string // not read: the store always opens <Dir>/archive.db
	WorkerCount    int
	FlushThreshold uint64 // bytes; 0 uses bucket.DefaultFlushThreshold
	GCMinInterval  time.Duration
}

// Default returns the configuration a freshly-initialized store starts
// from, before flags are applied.
func Default() *Config {
	return &Config{
		Dir:           "./bucketstore-data",
		Protocol:      uint32(protocol.FirstProtocolSupportingInitEntryAndMetaEntry),
		ArchiveDBPath: "./bucketstore-data/archive.db",
		WorkerCount:   4,
		GCMinInterval: 5 * time.Minute,
	}
}

// BindFlags registers cfg's fields onto cmd's persistent flag set, the
// pattern the teacher's rpcdaemon/cli.RootCommand uses for its daemon
// flags.
func BindFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.Dir, "datadir", cfg.Dir, "bucket directory root")
	flags.Uint32Var(&cfg.Protocol, "protocol", cfg.Protocol, "ledger protocol version")
	flags.StringVar(&cfg.ArchiveDBPath, "archivedb", cfg.ArchiveDBPath, "path to the archive state database (not read; the store always opens <datadir>/archive.db)")
	flags.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "number of concurrent merge workers")
	flags.Uint64Var(&cfg.FlushThreshold, "flush-threshold", cfg.FlushThreshold, "bytes buffered before a merge writer checkpoints to scratch")
	flags.DurationVar(&cfg.GCMinInterval, "gc-interval", cfg.GCMinInterval, "minimum time between garbage collection sweeps")
}
