package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recent send outcomes from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled (set audit.enabled to true)")
			}
			store, err := openAudit(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			summary, err := store.Summary(ctx)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			recent, err := store.ListRecent(ctx, limit)
			if err != nil {
				return fmt.Errorf("list recent: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, map[string]any{"summary": summary, "recent": recent})
			}
			if len(recent) == 0 {
				fmt.Fprintln(out, "No sends recorded yet.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OUTCOME\tCOUNT\tAVG LATENCY")
			for _, oc := range summary {
				fmt.Fprintf(tw, "%s\t%d\t%.0fms\n", oc.Outcome, oc.Count, oc.AvgLatencyMs)
			}
			tw.Flush()

			fmt.Fprintf(out, "\nLast %d sends:\n", len(recent))
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSESSION\tOUTCOME\tDETAIL\tLENGTH\tLATENCY")
			for _, rec := range recent {
				detail := rec.Reason
				switch {
				case rec.StatusCode != 0:
					detail = fmt.Sprintf("HTTP %d", rec.StatusCode)
				case rec.ReplyKind != "":
					detail = string(rec.ReplyKind)
				}
				session := rec.SessionID
				if len(session) > 8 {
					session = session[:8]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dms\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), session, rec.Outcome, detail,
					rec.MessageLength, rec.LatencyMs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent sends to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
