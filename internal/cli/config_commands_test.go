package cli

import (
	"testing"
)

func TestConfigPathCommandShape(t *testing.T) {
	cmd := newConfigPathCmd()
	if cmd.Use != "path" {
		t.Errorf("expected Use=\"path\", got %q", cmd.Use)
	}
	if cmd.RunE == nil {
		t.Error("RunE is nil")
	}
}

func TestConfigShowCommandShape(t *testing.T) {
	cmd := newConfigShowCmd()
	if cmd.Use != "show" {
		t.Errorf("expected Use=\"show\", got %q", cmd.Use)
	}
	if cmd.RunE == nil {
		t.Error("RunE is nil")
	}
}

func TestConfigTestCommandShape(t *testing.T) {
	cmd := newConfigTestCmd()
	if cmd.Use != "test" {
		t.Errorf("expected Use=\"test\", got %q", cmd.Use)
	}
}

func TestConfigInitCommandHasForceFlag(t *testing.T) {
	cmd := newConfigInitCmd()
	if cmd.Use != "init" {
		t.Errorf("expected Use=\"init\", got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("force") == nil {
		t.Error("expected a --force flag")
	}
}

func TestConfigCmdGroupsSubcommands(t *testing.T) {
	cmd := newConfigCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "show", "test", "path"} {
		if !names[want] {
			t.Errorf("expected config subcommand %q", want)
		}
	}
}
