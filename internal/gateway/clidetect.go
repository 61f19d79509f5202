package gateway

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// detectCLIVersion runs "<bin> --version" with a short timeout and returns
// its trimmed stdout, or an error if the binary isn't on PATH or exits
// non-zero. Both the Claude and Codex detection services key their
// on-disk fingerprint cache by this version string (spec.md §4.4.1).
func detectCLIVersion(bin string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
