package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/ledger"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <bucket-hash-hex> <key-type> <key-id-hex>",
	Short: "Find a key's ordinal position within a single bucket",
	Long: "Resolves the named bucket (building and caching its index on first use) " +
		"and reports whether key-type:key-id-hex is present and, if so, its offset " +
		"among the bucket's non-META records.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := common.HashFromHex(args[0])
		if err != nil {
			return fmt.Errorf("parsing bucket hash: %w", err)
		}
		kt, err := parseKeyType(args[1])
		if err != nil {
			return err
		}
		id, err := parseHexID(args[2])
		if err != nil {
			return fmt.Errorf("parsing key id: %w", err)
		}

		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		offset, found, err := m.Lookup(h, ledger.Key{Type: kt, ID: id})
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("%s not found in bucket %s\n", ledger.Key{Type: kt, ID: id}, args[0])
			return nil
		}
		fmt.Printf("%s -> offset %d in bucket %s\n", ledger.Key{Type: kt, ID: id}, offset, args[0])
		return nil
	},
}

func parseKeyType(s string) (ledger.Type, error) {
	switch s {
	case "Account", "account":
		return ledger.TypeAccount, nil
	case "Trustline", "trustline":
		return ledger.TypeTrustline, nil
	case "Offer", "offer":
		return ledger.TypeOffer, nil
	case "Data", "data":
		return ledger.TypeData, nil
	case "ClaimableBalance", "claimablebalance":
		return ledger.TypeClaimableBalance, nil
	default:
		return 0, fmt.Errorf("unknown key type %q", s)
	}
}

func parseHexID(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
