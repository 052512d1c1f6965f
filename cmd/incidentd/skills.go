package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsValidateCmd)
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Work with skill definitions",
}

var skillsValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate every skill definition in a directory",
	Long: `Validate every YAML skill definition in a directory. Each file must
parse and satisfy the structural rules (unique step ids, known risk levels,
known error policies).

Examples:
  incidentd skills validate ./skills
  incidentd skills validate ./skills --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSkillsValidate,
}

func runSkillsValidate(cmd *cobra.Command, args []string) error {
	registry := skill.NewRegistry(nil)
	count, err := registry.LoadDir(args[0])
	if err != nil {
		return fmt.Errorf("validate %s: %w", args[0], err)
	}

	if outputJSON {
		type loaded struct {
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Risk  skill.RiskLevel `json:"risk_level"`
			Steps int             `json:"steps"`
		}
		out := make([]loaded, 0, count)
		for _, s := range registry.List() {
			out = append(out, loaded{ID: s.ID, Name: s.Name, Risk: s.RiskLevel, Steps: len(s.Steps)})
		}
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SKILL\tNAME\tRISK\tSTEPS")
	for _, s := range registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Name, s.RiskLevel, len(s.Steps))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d skill(s) valid\n", count)
	return nil
}
