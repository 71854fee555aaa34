package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/store"
)

func newCandidatesCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Inspect saved candidates",
	}

	var (
		limit  int
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved candidates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := store.Open(cmd.Context(), filepath.Join(f.dataDir, "candidates.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			out, err := store.ListCandidates(cmd.Context(), db.Pool, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printCandidates(cmd.OutOrStdout(), out)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	list.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")

	cmd.AddCommand(list)
	return cmd
}

func printCandidates(w io.Writer, cs []domain.Candidate) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTITLE\tCOMPANY\tURL\tSAVED")
	for _, c := range cs {
		r := c.Record
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, r.CandidateName, r.CurrentTitle, r.CurrentCompany, r.LinkedInURL,
			c.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
