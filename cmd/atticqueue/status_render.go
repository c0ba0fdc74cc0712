package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"atticqueue/internal/api"
	"atticqueue/internal/deps"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func statusKindFromBool(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel turns a stored state such as "in_progress" into "In Progress".
func stateLabel(state string) string {
	state = strings.TrimSpace(strings.ReplaceAll(state, "_", " "))
	if state == "" {
		return "Unknown"
	}
	return titleCaser.String(state)
}

func buildQueueStatsRows(stats api.QueueStats) [][]string {
	if stats.Total == 0 {
		return nil
	}
	rows := [][]string{
		{stateLabel("queued"), strconv.Itoa(stats.Queued)},
		{stateLabel("in_progress"), strconv.Itoa(stats.InProgress)},
	}
	if stats.Corrupt > 0 {
		rows = append(rows, []string{stateLabel("corrupt"), strconv.Itoa(stats.Corrupt)})
	}
	return rows
}

func buildQueueListRows(entries []api.QueueEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		state := stateLabel(entry.State)
		if entry.Corrupt {
			state = stateLabel("corrupt")
		}
		rows = append(rows, []string{
			entry.Name,
			state,
			strconv.Itoa(entry.Attempts),
			entry.CreatedAt,
			entry.Path,
		})
	}
	return rows
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		if dep.Available {
			detail := fmt.Sprintf("Ready (command: %s)", dep.Command)
			if dep.Version != "" {
				detail = fmt.Sprintf("Ready (%s)", dep.Version)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, detail, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusError, detail, colorize))
	}
	return lines
}
