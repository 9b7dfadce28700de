package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/upload"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var workspaceID, userID, folderID string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload local files into a workspace",
		Long:  "Runs the files through the same validation, quota and storage pipeline the API uses and waits for the batch to finish.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := localInputs(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			d, err := internal.NewDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close(context.Background())

			unsubscribe := d.Manager.Subscribe(upload.Listener{
				OnStateChange: func(e upload.StateChangeEvent) {
					f, err := d.Manager.GetProgress(e.FileID)
					if err != nil {
						return
					}

					line := fmt.Sprintf("%-40s %s", f.Name, e.NewStatus)
					if e.Error != nil {
						line += ": " + e.Error.Message
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				},
			})
			defer unsubscribe()

			batchID, err := d.Manager.UploadBatch(ctx, inputs, upload.WorkspaceTarget(userID, workspaceID, folderID), upload.Options{})
			if err != nil {
				return err
			}

			bp, err := d.Manager.Wait(ctx, batchID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nBatch %s %s: %d/%d files, %s\n",
				bp.BatchID, bp.Status, bp.CompletedFiles, bp.TotalFiles, humanize.Bytes(uint64(bp.UploadedBytes)))

			if bp.Status != upload.BatchCompleted {
				return errors.New("not every file was uploaded")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "", "Workspace to upload into")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User the files are charged to")
	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Folder inside the workspace")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func localInputs(paths []string) ([]upload.Input, error) {
	inputs := make([]upload.Input, 0, len(paths))

	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s, %w", p, err)
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}

		mt, err := mimetype.DetectFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to detect type of %s, %w", p, err)
		}

		inputs = append(inputs, upload.Input{
			Name:     filepath.Base(p),
			Size:     st.Size(),
			MimeType: strings.TrimSpace(strings.Split(mt.String(), ";")[0]),
			Source:   upload.PathSource(p),
		})
	}

	return inputs, nil
}
