package cli

import "testing"

func TestDownloadCommandShape(t *testing.T) {
	cmd := newDownloadCmd()
	if cmd.Use == "" {
		t.Error("Use is empty")
	}
	if cmd.Flags().Lookup("dest") == nil {
		t.Error("expected a --dest flag")
	}
	if cmd.Flags().Lookup("password") == nil {
		t.Error("expected a --password flag")
	}
	if cmd.Args == nil {
		t.Error("expected positional arg validation")
	}
}
