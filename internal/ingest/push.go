package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// pipeBuf is the largest write the kernel keeps atomic on a pipe.
const pipeBuf = 4096

// ErrNoReader reports that nothing holds the pipe open for reading.
var ErrNoReader = errors.New("no daemon is reading the queue pipe")

// Push writes refs to the pipe at path. References are batched into records
// no larger than one atomic pipe write so concurrent producers never
// interleave within a record.
func Push(path string, refs []string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("queue pipe %s: %w", path, ErrNoReader)
		}
		return fmt.Errorf("stat queue pipe: %w", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("queue pipe %s is not a named pipe", path)
	}

	pipe, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("queue pipe %s: %w", path, ErrNoReader)
		}
		return fmt.Errorf("open queue pipe: %w", err)
	}
	defer pipe.Close()

	for _, record := range Records(refs) {
		if _, err := pipe.WriteString(record); err != nil {
			return fmt.Errorf("write queue pipe: %w", err)
		}
	}
	return nil
}

// Records groups refs into newline-terminated records of at most pipeBuf
// bytes. A single reference longer than that becomes its own record.
func Records(refs []string) []string {
	var records []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		current.WriteByte('\n')
		records = append(records, current.String())
		current.Reset()
	}
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.ContainsAny(ref, " \t\n") {
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(ref)+1 > pipeBuf {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(ref)
	}
	flush()
	return records
}
