package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/incidentd/internal/checkpoint"
)

var deleteAll bool

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)

	checkpointsDeleteCmd.Flags().BoolVar(&deleteAll, "all", false, "delete every checkpoint for the investigation")
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage investigation checkpoints",
	Long: `Inspect and manage the durable checkpoints incidentd writes during an
investigation.

Examples:
  # List all investigations with checkpoints
  incidentd checkpoints list

  # List checkpoints for one investigation, newest first
  incidentd checkpoints list 4f2c9a

  # Render the latest checkpoint as a markdown report
  incidentd checkpoints show 4f2c9a

  # Delete one checkpoint
  incidentd checkpoints delete 4f2c9a 8d11e0

  # Delete an entire investigation's checkpoints
  incidentd checkpoints delete 4f2c9a --all`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list [investigation-id]",
	Short: "List investigations, or one investigation's checkpoints",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <investigation-id> [checkpoint-id]",
	Short: "Show a checkpoint as a markdown report (latest if unspecified)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCheckpointsShow,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <investigation-id> [checkpoint-id]",
	Short: "Delete a checkpoint, or all of an investigation's with --all",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCheckpointsDelete,
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	if len(args) == 0 {
		summaries, err := store.ListInvestigations(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(summaries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INVESTIGATION\tCHECKPOINTS\tPHASE\tCONFIDENCE\tLATEST")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d%%\t%s\n",
				s.InvestigationID, s.CheckpointCount, s.Latest.Phase,
				s.Latest.Confidence, s.Latest.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}

	entries, err := store.List(ctx, args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECKPOINT\tPHASE\tCONFIDENCE\tHYPOTHESES\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%d\t%s\n",
			e.ID, e.Phase, e.Confidence, e.HypothesisCount,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	var cp *checkpoint.Checkpoint
	if len(args) == 2 {
		cp, err = store.Load(ctx, args[0], args[1])
	} else {
		cp, err = store.LoadLatest(ctx, args[0])
	}
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cp)
	}
	fmt.Print(checkpoint.RenderReport(cp))
	return nil
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	if deleteAll {
		count, err := store.DeleteAll(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d checkpoint(s) for investigation %s\n", count, args[0])
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("checkpoint id required unless --all is set")
	}
	found, err := store.Delete(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("checkpoint %s/%s not found", args[0], args[1])
	}
	fmt.Printf("deleted checkpoint %s\n", args[1])
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
