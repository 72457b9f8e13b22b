package main

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/reflex/internal/plan"
	"github.com/ShayCichocki/reflex/internal/session"
)

var agentsCmd = &cobra.Command{
	Use:   "agents <plan.yaml>",
	Short: "List the agents a plan uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		sess := session.New()
		if err := registerAgents(sess, p); err != nil {
			return err
		}

		steps := make(map[string]int)
		for _, s := range p.Steps {
			steps[s.Agent]++
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Agent", "Capabilities", "Steps"})
		for _, a := range sess.Agents.All() {
			caps := strings.Join(a.Capabilities, ", ")
			if caps == "" {
				caps = "-"
			}
			tw.AppendRow(table.Row{a.Name, caps, steps[a.Name]})
		}
		tw.Render()
		return nil
	},
}
