package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigCommand_FlagsOverrideDefaults(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config",
		"--address", "feed.example.com:7300",
		"--symbols", "AAPL,IBM",
		"--kinds", "all",
		"--log-level", "debug",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{`"feed.example.com:7300"`, `"IBM"`, `"all"`, `"debug"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output misses %s:\n%s", want, out.String())
		}
	}
}

func TestConfigCommand_InvalidFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "--kinds", "nonsense"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "feed.kinds") {
		t.Fatalf("expected feed.kinds validation error, got %v", err)
	}
}
