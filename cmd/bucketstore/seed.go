package main

import (
	"fmt"

	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/protocol"
	"github.com/ledgerwatch/bucketstore/txbatch"
)

var (
	seedLedgers int
	seedPerSize int
)

func init() {
	seedCmd.Flags().IntVar(&seedLedgers, "ledgers", 100, "number of ledgers to close")
	seedCmd.Flags().IntVar(&seedPerSize, "entries-per-ledger", 20, "live entries created per ledger")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Close a run of randomly generated ledgers against the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		f := fuzz.New().NilChance(0).NumElements(8, 32)
		proto := protocol.Version(cfg.Protocol)
		base := m.BucketList().LastLedger()

		for i := 1; i <= seedLedgers; i++ {
			seq := base + uint64(i)
			batch := txbatch.Batch{LedgerSeq: seq}
			for j := 0; j < seedPerSize; j++ {
				var id []byte
				var body []byte
				f.Fuzz(&id)
				f.Fuzz(&body)
				var amount uint64
				f.Fuzz(&amount)
				batch.Live = append(batch.Live, ledger.Entry{
					Key:                ledger.Key{Type: ledger.TypeAccount, ID: id},
					LastModifiedLedger: uint32(seq),
					Balance:            uint256.NewInt(amount),
					Body:               body,
				})
			}
			if _, _, err := m.AddLedger(batch, proto); err != nil {
				return fmt.Errorf("closing ledger %d: %w", seq, err)
			}
		}
		if err := m.Wait(); err != nil {
			return err
		}
		fmt.Printf("closed %d ledgers, now at %d\n", seedLedgers, m.BucketList().LastLedger())
		return nil
	},
}
