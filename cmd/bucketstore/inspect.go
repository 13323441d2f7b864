package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/bucketstore/bucketlevel"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the current curr/snap/next state of every bucket list level",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		out := colorable.NewColorableStdout()
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Level", "Half", "Curr", "Snap", "Next"})

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		colorize := func(s string) string { return s }
		if isatty.IsTerminal(os.Stdout.Fd()) {
			colorize = yellow
		}

		bl := m.BucketList()
		for i, lvl := range bl.Levels {
			nextState := lvl.Next.State().String()
			nextCell := colorize(nextState)
			if nextState == "Running" {
				nextCell = green(nextState)
			} else if nextState == "Clear" {
				nextCell = red(nextState)
			}
			table.Append([]string{
				fmt.Sprintf("%d", i),
				fmt.Sprintf("%d", bucketlevel.Half(i)),
				shortHash(lvl.CurrHash()),
				shortHash(lvl.SnapHash()),
				nextCell,
			})
		}
		table.Render()
		fmt.Printf("last ledger: %d\n", bl.LastLedger())
		return nil
	},
}

func shortHash(h [32]byte) string {
	allZero := true
	for _, b := range h {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return "h0"
	}
	return fmt.Sprintf("%x", h[:6])
}
