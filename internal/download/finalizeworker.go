package download

import (
	"os"
	"path/filepath"

	"github.com/rescale-labs/ultratransfer/internal/queue"
)

// FinalizeWorker drains the finalize queue, running FileFinalizer on each
// fully-downloaded file. The file's OnComplete callback fires on its own,
// from FileState, the moment the status it sets here lands on a terminal
// value.
type FinalizeWorker struct {
	queue     *queue.Queue[*finalizeTask]
	finalizer *FileFinalizer
	reg       registry
}

// finalizeTask carries the file_id plus whatever the registry needs to look
// up its record/state at dequeue time (the registry map entries remain the
// source of truth; this is just the routing key).
type finalizeTask struct {
	fileID string
}

func newFinalizeWorker(q *queue.Queue[*finalizeTask], finalizer *FileFinalizer, reg registry) *FinalizeWorker {
	return &FinalizeWorker{queue: q, finalizer: finalizer, reg: reg}
}

// Run drains the queue until it receives a nil sentinel task.
func (w *FinalizeWorker) Run() {
	for {
		task := w.queue.Get()
		if task == nil {
			w.queue.TaskDone()
			return
		}
		w.handle(task)
	}
}

func (w *FinalizeWorker) handle(task *finalizeTask) {
	defer w.queue.TaskDone()

	state, ok := w.reg.state(task.fileID)
	if !ok {
		return
	}
	record, ok := w.reg.record(task.fileID)
	if !ok {
		return
	}

	if state.Cancelled() {
		state.SetStatus(StatusCancelled)
		return
	}
	if state.Error() != nil {
		state.SetStatus(StatusFailed)
		return
	}

	outputPath := filepath.Join(record.FileDir, record.FileInfo.Name)
	if err := w.finalizer.Finalize(record, outputPath); err != nil {
		state.Fail(err)
		return
	}

	finalDest := filepath.Join(record.OutputDir, record.FileInfo.Name)
	if _, err := os.Stat(record.OutputDir); os.IsNotExist(err) {
		state.Fail(err)
		return
	}
	if err := os.Rename(outputPath, finalDest); err != nil {
		state.Fail(err)
		return
	}
	record.OutputPath = finalDest

	os.RemoveAll(record.FileDir)
	state.SetStatus(StatusCompleted)
}
