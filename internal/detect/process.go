package detect

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Processes probes for any of a set of process names.
type Processes struct {
	Names  []string
	Runner Runner
	GOOS   string
}

// NewProcesses probes names with the process tools of goos, or of the running
// system when goos is empty.
func NewProcesses(runner Runner, goos string, names ...string) *Processes {
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Processes{Names: names, Runner: runner, GOOS: goos}
}

func (p *Processes) Running(ctx context.Context) (bool, error) {
	if len(p.Names) == 0 {
		return false, nil
	}
	if p.GOOS == "windows" {
		return p.tasklist(ctx)
	}
	running, err := p.pgrep(ctx)
	if IsToolMissing(err) {
		return p.ps(ctx)
	}
	return running, err
}

func (p *Processes) pgrep(ctx context.Context) (bool, error) {
	for _, name := range p.Names {
		_, err := p.Runner.Run(ctx, "pgrep", "-i", "-x", name)
		switch {
		case err == nil:
			return true, nil
		case ExitCode(err) == 1:
			// no match
		default:
			return false, err
		}
	}
	return false, nil
}

func (p *Processes) ps(ctx context.Context) (bool, error) {
	out, err := p.Runner.Run(ctx, "ps", "-A", "-o", "comm=")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		comm := strings.TrimSpace(line)
		if comm == "" {
			continue
		}
		base := filepath.Base(comm)
		for _, name := range p.Names {
			if strings.EqualFold(base, name) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Processes) tasklist(ctx context.Context) (bool, error) {
	for _, name := range p.Names {
		image := name
		if !strings.HasSuffix(strings.ToLower(image), ".exe") {
			image += ".exe"
		}
		out, err := p.Runner.Run(ctx, "tasklist", "/fo", "csv", "/nh", "/fi", "IMAGENAME eq "+image)
		if err != nil {
			return false, err
		}
		rows, err := parseTasklist(out)
		if err != nil {
			return false, err
		}
		for _, row := range rows {
			if strings.EqualFold(row[0], image) {
				return true, nil
			}
		}
	}
	return false, nil
}

// parseTasklist reads `tasklist /fo csv /nh` output. The informational
// "no tasks" line is not CSV and yields no rows.
func parseTasklist(out []byte) ([][]string, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 || !bytes.HasPrefix(out, []byte(`"`)) {
		return nil, nil
	}
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tasklist: %w", err)
	}
	valid := rows[:0]
	for _, row := range rows {
		if len(row) > 0 {
			valid = append(valid, row)
		}
	}
	return valid, nil
}

// anyProbe is running when any of its probes is. Errors only surface when no
// probe answered.
type anyProbe []ProcessProbe

func (a anyProbe) Running(ctx context.Context) (bool, error) {
	var errs []error
	for _, p := range a {
		ok, err := p.Running(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(errs) == len(a) && len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return false, nil
}
