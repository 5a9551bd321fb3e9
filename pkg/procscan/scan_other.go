//go:build !linux

package procscan

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type systemScanner struct{}

// Scan shells out to ps on platforms without /proc. Launch time is left
// zero; classification only needs the command line.
func (systemScanner) Scan() ([]ProcessRecord, error) {
	out, err := exec.Command("ps", "-axo", "pid=,ppid=,command=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps failed: %w", err)
	}

	var records []ProcessRecord
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		records = append(records, ProcessRecord{
			PID:     pid,
			PPID:    ppid,
			Cmdline: strings.Join(fields[2:], " "),
		})
	}

	sortByPID(records)
	return records, nil
}
