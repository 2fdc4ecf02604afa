package download

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Plan is the outcome of planning one file's download: its immutable
// record, its initial mutable state, and the fragment tasks still missing
// (empty if the file was already fully downloaded on disk).
type Plan struct {
	Record       *FileRecord
	State        *FileState
	MissingTasks []*FragmentTask
	FullyPresent bool
}

// TaskPlanner turns a batch of FileInfo plans into on-disk state, resolving
// whatever fragments already exist in temp_root/file_id from a prior run
// into "already downloaded" rather than re-fetching them.
type TaskPlanner struct {
	tempRoot  string
	outputDir string
}

// NewTaskPlanner builds a planner rooted at tempRoot, writing finished files
// under outputDir.
func NewTaskPlanner(tempRoot, outputDir string) *TaskPlanner {
	return &TaskPlanner{tempRoot: tempRoot, outputDir: outputDir}
}

// Plan resolves one file's on-disk state and returns its record, state, and
// the fragment tasks still needed. It is idempotent: calling it twice for
// the same file_id and temp_root reproduces the same result, which is what
// makes resume-after-crash transparent.
func (p *TaskPlanner) Plan(info FileInfo, filePassword string, onComplete OnCompleteFunc) (*Plan, error) {
	fileDir := filepath.Join(p.tempRoot, info.ID)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create file dir %s: %w", fileDir, err)
	}

	fragments := append([]FragmentInfo(nil), info.Fragments...)
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Sequence < fragments[j].Sequence })

	var matched int
	var bytesMatched int64
	var missing []*FragmentTask

	for _, frag := range fragments {
		partPath := fragmentPartPath(fileDir, frag.Sequence)
		fi, err := os.Stat(partPath)
		switch {
		case err == nil && fi.Size() == frag.Size:
			matched++
			bytesMatched += frag.Size
		case err == nil:
			// Present but truncated/corrupt: a crash mid-write left a
			// partial part file. Delete and treat as missing so it isn't
			// falsely counted as done.
			os.Remove(partPath)
			missing = append(missing, &FragmentTask{FileID: info.ID, FileName: info.Name, Fragment: frag, FilePassword: filePassword})
		case os.IsNotExist(err):
			missing = append(missing, &FragmentTask{FileID: info.ID, FileName: info.Name, Fragment: frag, FilePassword: filePassword})
		default:
			return nil, fmt.Errorf("stat %s: %w", partPath, err)
		}
	}

	state := NewFileState(info.ID, len(fragments), info.Size, onComplete)
	state.FragmentsDownloaded = matched
	state.BytesDownloaded = bytesMatched

	fullyPresent := len(missing) == 0
	switch {
	case fullyPresent:
		// All fragments are on disk, but the file still needs to pass
		// through the finalize queue before it is truly COMPLETED.
		state.status = StatusPending
	case matched > 0:
		state.status = StatusPaused
	default:
		state.status = StatusPending
	}

	record := &FileRecord{
		FileInfo:   info,
		FileDir:    fileDir,
		MergedPath: filepath.Join(fileDir, info.Name+".encrypted"),
		OutputDir:  p.outputDir,
	}

	return &Plan{Record: record, State: state, MissingTasks: missing, FullyPresent: fullyPresent}, nil
}

func fragmentPartPath(fileDir string, sequence int) string {
	return filepath.Join(fileDir, fmt.Sprintf("%d.part", sequence))
}
