package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-while/go-rangeview/internal/models"
)

// printRecords writes an aligned table for terminals and tab separated lines otherwise
func printRecords(w io.Writer, records []*models.Record, aligned bool) error {
	if !aligned {
		for _, r := range records {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, r.Email); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName\tEmail")
	fmt.Fprintln(tw, "--\t----\t-----")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.Name, r.Email)
	}
	fmt.Fprintf(tw, "\n%d users\n", len(records))
	return tw.Flush()
}

func printPlan(w io.Writer, plan *models.PartitionPlan) {
	fmt.Fprintf(w, "count=%d max_id=%d part_size=%d partitions=%d\n",
		plan.TotalCount, plan.MaxID, plan.PartSize, plan.Partitions())
	for _, r := range plan.Ranges {
		fmt.Fprintf(w, "  #%d  %s\n", r.Index, r)
	}
}
