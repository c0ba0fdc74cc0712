// Package deps locates the external binaries atticqueue shells out to.
package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds each version probe.
const DefaultProbeTimeout = 3 * time.Second

// Binary names an executable and what it is used for.
type Binary struct {
	Name    string
	Command string
	Purpose string
	// VersionArgs, when set, are passed to the command to learn its version.
	VersionArgs []string
}

// Status reports whether a Binary was found and, if probed, its version.
type Status struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Purpose   string `json:"purpose,omitempty"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Probe resolves each binary on PATH and runs its version probe. A binary
// that resolves but fails its probe is still reported available with the
// failure in Detail, since the daemon only needs it to execute.
func Probe(ctx context.Context, binaries []Binary) []Status {
	results := make([]Status, 0, len(binaries))
	for _, bin := range binaries {
		results = append(results, probeOne(ctx, bin))
	}
	return results
}

func probeOne(ctx context.Context, bin Binary) Status {
	status := Status{
		Name:    bin.Name,
		Command: strings.TrimSpace(bin.Command),
		Purpose: strings.TrimSpace(bin.Purpose),
	}
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Path = path
	status.Available = true
	if len(bin.VersionArgs) == 0 {
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, path, bin.VersionArgs...).Output()
	if err != nil {
		status.Detail = fmt.Sprintf("version probe failed: %v", err)
		return status
	}
	status.Version = firstLine(out)
	return status
}

func firstLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
