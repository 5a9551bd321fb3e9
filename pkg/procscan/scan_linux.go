//go:build linux

package procscan

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

const clockTicksPerSecond = 100 // Linux default; fine for launch-time estimates

type systemScanner struct{}

// Scan walks /proc. Entries that vanish mid-walk are skipped: a PID
// directory disappearing between ReadDir and the file reads just means the
// process exited first.
func (systemScanner) Scan() ([]ProcessRecord, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	boot := bootTime()
	var records []ProcessRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		cmdline, ok := readCmdline(pid)
		if !ok {
			continue
		}
		ppid, startTicks := readStat(pid)

		records = append(records, ProcessRecord{
			PID:       pid,
			PPID:      ppid,
			Cmdline:   cmdline,
			StartedAt: boot.Add(time.Duration(startTicks) * time.Second / clockTicksPerSecond),
		})
	}

	sortByPID(records)
	return records, nil
}

// readCmdline returns the NUL-separated command line joined with spaces.
// Kernel threads have an empty cmdline and are reported as not ok.
func readCmdline(pid int) (string, bool) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return "", false
	}
	cmdline := strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", " "))
	if cmdline == "" {
		return "", false
	}
	return cmdline, true
}

// readStat extracts the parent PID (field 4) and start time in clock ticks
// since boot (field 22) from /proc/<pid>/stat. The comm field may contain
// spaces, so fields are counted from the closing paren.
func readStat(pid int) (ppid int, startTicks int64) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, 0
	}
	rest := string(raw)
	if i := strings.LastIndexByte(rest, ')'); i >= 0 {
		rest = rest[i+1:]
	}
	fields := strings.Fields(rest)
	// fields[0] is state, fields[1] is ppid, fields[19] is starttime.
	if len(fields) > 1 {
		ppid, _ = strconv.Atoi(fields[1])
	}
	if len(fields) > 19 {
		startTicks, _ = strconv.ParseInt(fields[19], 10, 64)
	}
	return ppid, startTicks
}

func bootTime() time.Time {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return time.Now()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "btime") {
			parts := strings.Fields(line)
			if len(parts) > 1 {
				sec, _ := strconv.ParseInt(parts[1], 10, 64)
				return time.Unix(sec, 0)
			}
		}
	}
	return time.Now()
}
