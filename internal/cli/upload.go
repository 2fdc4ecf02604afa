package cli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/pathutil"
	"github.com/rescale-labs/ultratransfer/internal/upload"
	strutil "github.com/rescale-labs/ultratransfer/internal/util/strings"
	"github.com/rescale-labs/ultratransfer/internal/validation"
)

func newUploadCmd() *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "upload <path> [path...]",
		Short: "Upload one or more files to a folder on the attachment host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if folderID == "" {
				return fmt.Errorf("--folder is required")
			}

			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForConnection(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			client, err := newAuthenticatedClient(cfg)
			if err != nil {
				return err
			}

			paths := make([]string, 0, len(args))
			for _, p := range args {
				if err := validation.ValidateFilePath(p); err != nil {
					return fmt.Errorf("invalid path %q: %w", p, err)
				}
				resolved, err := pathutil.ResolveAbsolutePath(p)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", p, err)
				}
				if _, err := os.Stat(resolved); err != nil {
					return fmt.Errorf("stat %q: %w", resolved, err)
				}
				paths = append(paths, resolved)
			}

			return runUpload(client, cfg.MaxUploadThreads, folderID, paths)
		},
	}

	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Destination folder id")

	return cmd
}

// runUpload checks the destination folder's upload policy once, then
// submits every path and polls progress until each reaches a terminal
// status. The engine assigns each file its own id once scanned, so bars
// are keyed by that id rather than by path.
func runUpload(client *apiclient.Client, maxWorkers int, folderID string, paths []string) error {
	ctx := GetContext()
	logger := GetLogger()

	uploader := upload.NewUltraUploader(client, maxWorkers)
	defer uploader.Shutdown()

	if err := uploader.CheckCanUpload(ctx, folderID); err != nil {
		return fmt.Errorf("check upload eligibility: %w", err)
	}

	bars := newProgressSet()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for _, path := range paths {
		wg.Add(1)
		p := path
		err := uploader.Upload(path, folderID, func(fileID string, state *upload.FileUploadState) {
			defer wg.Done()
			snap := state.Snapshot()
			bars.finish(fileID, snap.Err)
			if snap.Status != upload.StatusCompleted {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s (%s): %s", p, fileID, snap.Status))
				mu.Unlock()
			} else {
				logger.Info().Str("path", p).Str("file_id", fileID).Msg("upload completed")
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			failures = append(failures, fmt.Errorf("%s: %w", p, err))
			mu.Unlock()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var paused bool
	for {
		select {
		case <-done:
			goto finished
		case <-ticker.C:
			if !paused && ctx.Err() != nil {
				uploader.PauseAll()
				paused = true
			}
			for id, snap := range uploader.GetAllStates() {
				total := int64(snap.ExpectedChunks + snap.ExpectedSubtitles + snap.ExpectedThumbnail)
				current := int64(snap.UploadedChunks + snap.UploadedSubtitles + snap.UploadedThumbnail)
				bars.set(id, snap.Status.String(), total, current)
			}
		}
	}

finished:
	ok := len(paths) - len(failures)
	fmt.Printf("uploaded %d/%d %s\n", ok, len(paths), strutil.Pluralize("file", int64(len(paths))))
	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  failed: %v\n", f)
		}
		return fmt.Errorf("%d %s failed", len(failures), strutil.Pluralize("file", int64(len(failures))))
	}
	return nil
}
