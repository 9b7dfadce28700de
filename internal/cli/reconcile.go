package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"foldly/upload-api/internal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List stored objects that no file record points to",
		Long:  "Walks the workspace and link buckets and prints every object without metadata. Nothing is deleted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			d, err := internal.NewDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close(context.Background())

			orphans, err := d.Reconciler.RunAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to reconcile storage, %w", err)
			}

			if len(orphans) == 0 {
				fmt.Println("No orphaned objects found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUCKET\tPATH\tSIZE\tMODIFIED")
			for _, o := range orphans {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Bucket, o.Path, humanize.Bytes(uint64(o.Size)), humanize.Time(o.LastModified))
			}

			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")

	return cmd
}
