package cli

import "testing"

func TestUploadCommandShape(t *testing.T) {
	cmd := newUploadCmd()
	if cmd.Use == "" {
		t.Error("Use is empty")
	}
	f := cmd.Flags().Lookup("folder")
	if f == nil {
		t.Fatal("expected a --folder flag")
	}
	if f.Shorthand != "f" {
		t.Errorf("expected -f shorthand, got %q", f.Shorthand)
	}
}

func TestUploadCommandRequiresFolderFlag(t *testing.T) {
	cmd := newUploadCmd()
	cmd.SetArgs([]string{"/tmp/does-not-matter"})
	err := cmd.RunE(cmd, []string{"/tmp/does-not-matter"})
	if err == nil {
		t.Fatal("expected an error when --folder is not set")
	}
}
