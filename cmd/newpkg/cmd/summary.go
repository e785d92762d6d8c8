package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
)

// summaryJSON is the structured summary shape of §7: "each run ends
// with a structured summary {completed[], skipped[], failed[]}".
type summaryJSON struct {
	Command   string   `json:"command"`
	Completed []string `json:"completed"`
	Skipped   []string `json:"skipped"`
	Failed    []string `json:"failed"`
}

// emitSummary prints the batch result either as the §7 JSON shape (when
// --json was passed) or as a short human-readable line.
func emitSummary(command string, completed, skipped, failed []string) {
	if jsonOutput {
		data, err := json.MarshalIndent(summaryJSON{
			Command:   command,
			Completed: nonNil(completed),
			Skipped:   nonNil(skipped),
			Failed:    nonNil(failed),
		}, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stdout, string(data))
		}
		return
	}
	fmt.Printf(
		"%s: %s=%d %s=%d %s=%d\n",
		command,
		color.GreenString("completed"), len(completed),
		color.YellowString("skipped"), len(skipped),
		color.RedString("failed"), len(failed),
	)
	if len(failed) > 0 {
		fmt.Println(color.RedString("  failed: %v", failed))
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
