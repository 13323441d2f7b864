package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List every bucket hash with a non-zero persisted reference count",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		hashes, err := m.ReferencedHashes()
		if err != nil {
			return err
		}
		for _, h := range hashes {
			fmt.Println(h)
		}
		fmt.Printf("%d referenced buckets\n", len(hashes))
		return nil
	},
}
