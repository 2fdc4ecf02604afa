package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/download"
	"github.com/rescale-labs/ultratransfer/internal/pathutil"
	"github.com/rescale-labs/ultratransfer/internal/util/paths"
	strutil "github.com/rescale-labs/ultratransfer/internal/util/strings"
	"github.com/rescale-labs/ultratransfer/internal/validation"
)

func newDownloadCmd() *cobra.Command {
	var destDir string
	var password string

	cmd := &cobra.Command{
		Use:   "download <file-id> [file-id...]",
		Short: "Download one or more files, reassembling their fragments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			resolvedDest, err := pathutil.ResolveAbsolutePath(destDir)
			if err != nil {
				return fmt.Errorf("resolve destination directory: %w", err)
			}
			if err := os.MkdirAll(resolvedDest, 0o755); err != nil {
				return fmt.Errorf("create destination directory: %w", err)
			}

			return runDownload(client, cfg, resolvedDest, password, args)
		},
	}

	cmd.Flags().StringVarP(&destDir, "dest", "d", ".", "Destination directory")
	cmd.Flags().StringVar(&password, "password", "", "Resource password, if the file(s) require one")

	return cmd
}

// runDownload drives a batch download: it pre-fetches metadata for
// validation and collision reporting, then hands each id to an
// UltraDownloader and polls progress until every file reaches a terminal
// status.
func runDownload(client *apiclient.Client, cfg *config.Config, destDir, password string, ids []string) error {
	ctx := GetContext()
	logger := GetLogger()

	fetcher := download.NewMetadataFetcher(client)
	requiredPasswords := make(map[string]string, len(ids))
	for _, id := range ids {
		requiredPasswords[id] = password
	}

	infos, err := fetcher.Fetch(ctx, ids, requiredPasswords)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	forDownload := make([]paths.FileForDownload, 0, len(infos))
	for _, info := range infos {
		if err := validation.ValidateFilename(info.Name); err != nil {
			logger.Warn().Str("file_id", info.ID).Err(err).Msg("server-supplied filename failed validation, downloading anyway under its file id")
			info.Name = info.ID
		}
		forDownload = append(forDownload, paths.FileForDownload{
			FileID:    info.ID,
			Name:      info.Name,
			LocalPath: filepath.Join(destDir, info.Name),
			Size:      info.Size,
		})
	}

	_, collisions := paths.ResolveCollisions(forDownload)
	if collisions > 0 {
		logger.Warn().Int("count", collisions).Msg("destination filename collisions detected; a later file replaces an earlier one with the same name in the destination directory")
	}

	downloader := download.NewUltraDownloader(client, cfg.TempRoot, cfg.MaxDownloadThreads)
	defer downloader.Shutdown()

	bars := newProgressSet()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for _, info := range infos {
		wg.Add(1)
		id := info.ID
		name := info.Name
		err := downloader.Download(ctx, id, password, destDir, func(fileID string, state *download.FileState) {
			defer wg.Done()
			snap := state.Snapshot()
			bars.finish(fileID, snap.Err)
			if snap.Status != download.StatusCompleted {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s (%s): %s", name, fileID, snap.Status))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
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
				downloader.PauseAll()
				paused = true
			}
			for id, snap := range downloader.GetAllStates() {
				bars.set(id, snap.Status.String(), snap.SizeTotal, snap.BytesDownloaded)
			}
		}
	}

finished:
	ok := len(infos) - len(failures)
	fmt.Printf("downloaded %d/%d %s\n", ok, len(infos), strutil.Pluralize("file", int64(len(infos))))
	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  failed: %v\n", f)
		}
		return fmt.Errorf("%d %s failed", len(failures), strutil.Pluralize("file", int64(len(failures))))
	}
	return nil
}
