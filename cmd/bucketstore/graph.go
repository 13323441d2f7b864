package main

import (
	"fmt"

	"github.com/emicklei/dot"
	"github.com/spf13/cobra"
)

var graphOut string

func init() {
	graphCmd.Flags().StringVar(&graphOut, "out", "", "file to write the graph to (default: stdout)")
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the bucket list cascade as a Graphviz dot graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		g := dot.NewGraph(dot.Directed)
		g.Attr("rankdir", "LR")

		bl := m.BucketList()
		var prevCurr *dot.Node
		for i, lvl := range bl.Levels {
			curr := g.Node(fmt.Sprintf("curr_%d", i)).Label(fmt.Sprintf("curr[%d]\n%s", i, shortHash(lvl.CurrHash())))
			snap := g.Node(fmt.Sprintf("snap_%d", i)).Label(fmt.Sprintf("snap[%d]\n%s", i, shortHash(lvl.SnapHash())))
			g.Edge(snap, curr).Label(lvl.Next.State().String())
			if prevCurr != nil {
				g.Edge(*prevCurr, curr).Label("spills into")
			}
			n := curr
			prevCurr = &n
		}

		if graphOut == "" {
			fmt.Println(g.String())
			return nil
		}
		return writeFile(graphOut, g.String())
	},
}
