package download

import (
	"os"
	"path/filepath"
	"testing"
)

func testFileInfo() FileInfo {
	return FileInfo{
		ID:   "file-1",
		Name: "out.bin",
		Size: 30,
		Fragments: []FragmentInfo{
			{MessageID: "m1", AttachmentID: "a1", Offset: 0, Sequence: 1, Size: 10},
			{MessageID: "m2", AttachmentID: "a2", Offset: 10, Sequence: 2, Size: 10},
			{MessageID: "m3", AttachmentID: "a3", Offset: 20, Sequence: 3, Size: 10},
		},
	}
}

func TestPlanAllMissing(t *testing.T) {
	tmp := t.TempDir()
	p := NewTaskPlanner(tmp, filepath.Join(tmp, "out"))

	plan, err := p.Plan(testFileInfo(), "", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.FullyPresent {
		t.Fatal("expected not fully present")
	}
	if len(plan.MissingTasks) != 3 {
		t.Fatalf("expected 3 missing tasks, got %d", len(plan.MissingTasks))
	}
	if plan.State.Status() != StatusPending {
		t.Fatalf("expected PENDING, got %s", plan.State.Status())
	}
}

func TestPlanResumesPartialDownload(t *testing.T) {
	tmp := t.TempDir()
	info := testFileInfo()

	fileDir := filepath.Join(tmp, info.ID)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fragmentPartPath(fileDir, 2), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewTaskPlanner(tmp, filepath.Join(tmp, "out"))
	plan, err := p.Plan(info, "", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.FullyPresent {
		t.Fatal("expected not fully present")
	}
	if len(plan.MissingTasks) != 2 {
		t.Fatalf("expected 2 missing tasks, got %d", len(plan.MissingTasks))
	}
	for _, task := range plan.MissingTasks {
		if task.Fragment.Sequence == 2 {
			t.Fatal("sequence 2 should have been counted as already done")
		}
	}
	if plan.State.FragmentsDownloaded != 1 {
		t.Fatalf("expected 1 fragment already downloaded, got %d", plan.State.FragmentsDownloaded)
	}
	if plan.State.Status() != StatusPaused {
		t.Fatalf("expected PAUSED, got %s", plan.State.Status())
	}
}

func TestPlanDeletesSizeMismatchedFragment(t *testing.T) {
	tmp := t.TempDir()
	info := testFileInfo()

	fileDir := filepath.Join(tmp, info.ID)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	partPath := fragmentPartPath(fileDir, 2)
	if err := os.WriteFile(partPath, make([]byte, 3), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewTaskPlanner(tmp, filepath.Join(tmp, "out"))
	plan, err := p.Plan(info, "", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.MissingTasks) != 3 {
		t.Fatalf("expected all 3 fragments missing after size-mismatch deletion, got %d", len(plan.MissingTasks))
	}
	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatal("expected truncated part file to be deleted")
	}
}

func TestPlanFullyPresent(t *testing.T) {
	tmp := t.TempDir()
	info := testFileInfo()

	fileDir := filepath.Join(tmp, info.ID)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, frag := range info.Fragments {
		if err := os.WriteFile(fragmentPartPath(fileDir, frag.Sequence), make([]byte, frag.Size), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := NewTaskPlanner(tmp, filepath.Join(tmp, "out"))
	plan, err := p.Plan(info, "", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !plan.FullyPresent {
		t.Fatal("expected fully present")
	}
	if len(plan.MissingTasks) != 0 {
		t.Fatalf("expected no missing tasks, got %d", len(plan.MissingTasks))
	}
	if plan.State.FragmentsDownloaded != 3 {
		t.Fatalf("expected 3 fragments downloaded, got %d", plan.State.FragmentsDownloaded)
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	info := testFileInfo()
	p := NewTaskPlanner(tmp, filepath.Join(tmp, "out"))

	plan1, err := p.Plan(info, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	plan2, err := p.Plan(info, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan1.MissingTasks) != len(plan2.MissingTasks) {
		t.Fatal("expected repeated Plan calls to reproduce the same result")
	}
}
