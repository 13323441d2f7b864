package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Force an immediate garbage collection sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		freed, err := m.Sweep()
		if err != nil {
			return err
		}
		fmt.Printf("freed %d unreachable buckets\n", freed)
		return nil
	},
}
