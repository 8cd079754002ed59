// Recovery-facing log scan (spec §4.8): turns the live log file back
// into an ordered slice of entries, tolerating a torn final line the
// way folio's line-oriented readers tolerate a truncated last record
// after a crash mid-write.
package wal

import (
	"bufio"
	"os"

	"github.com/jpl-au/minirel/errs"
)

// ReadAll scans path and returns every well-formed entry in LSN order.
// A malformed trailing line (a write that was interrupted mid-append)
// is dropped rather than treated as corruption, since it can only ever
// be the very last line of the file. A malformed line anywhere else is
// a genuine LogCorrupt error.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.InternalInvariant, "open wal for scan", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.InternalInvariant, "scan wal", err)
	}

	entries := make([]Entry, 0, len(lines))
	var lastLSN int64 = -1
	for i, line := range lines {
		e, err := parseEntry(line)
		if err != nil {
			if i == len(lines)-1 {
				break // tolerate a torn final write
			}
			return nil, err
		}
		if e.LSN <= lastLSN {
			return nil, errs.New(errs.LogCorrupt, "log LSNs are not strictly increasing")
		}
		lastLSN = e.LSN
		entries = append(entries, e)
	}
	return entries, nil
}

// CheckpointOffset returns the index into entries of the last
// CHECKPOINT entry, or -1 if none is present. Recovery (spec §4.8)
// only ever needs to replay entries from this point forward.
func CheckpointOffset(entries []Entry) int {
	last := -1
	for i, e := range entries {
		if e.Op == OpCheckpoint {
			last = i
		}
	}
	return last
}
