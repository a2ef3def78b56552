// Package logtail implements the access-log tailer: given a path and an
// optional substring filter, it finds the most recent matching line and
// extracts its nginx-style bracketed timestamp.
package logtail

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
)

// chunkSize is the unit the tailer reads backwards in. maxScanBytes bounds
// how far back a single lookup will read before giving up, so a filter that
// matches nothing in a huge log file can't stall a hibernation tick.
const (
	chunkSize    = 64 * 1024
	maxScanBytes = 8 * 1024 * 1024
)

// timeLayout is Go's reference-time spelling of nginx's default
// log_format timestamp: "02/Jan/2006:15:04:05 -0700".
const timeLayout = "02/Jan/2006:15:04:05 -0700"

// MostRecentActivity scans path from the end backwards, yielding complete
// lines newest-first, and returns the wall-clock timestamp embedded in the
// first line that contains filter as a substring (or the first line at all,
// if filter is empty). It returns ok=false with no error when the file is
// empty or no matching line is found within maxScanBytes.
func MostRecentActivity(path string, filter string) (t time.Time, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false, &errs.LogIoError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, false, &errs.LogIoError{Path: path, Err: err}
	}
	size := info.Size()
	if size == 0 {
		return time.Time{}, false, nil
	}

	var tail []byte // accumulates bytes read so far, oldest-first within the window
	pos := size
	scanned := int64(0)

	for pos > 0 && scanned < maxScanBytes {
		readLen := int64(chunkSize)
		if readLen > pos {
			readLen = pos
		}
		pos -= readLen
		scanned += readLen

		buf := make([]byte, readLen)
		if _, err := f.ReadAt(buf, pos); err != nil {
			return time.Time{}, false, &errs.LogIoError{Path: path, Err: err}
		}
		tail = append(buf, tail...)

		lines := splitLines(tail)
		// The first element may be a partial line (its start is before pos
		// unless pos==0); skip it unless we've reached the start of the file.
		start := 0
		if pos > 0 {
			start = 1
		}
		for i := len(lines) - 1; i >= start; i-- {
			line := lines[i]
			if len(line) == 0 {
				continue
			}
			if filter != "" && !bytes.Contains(line, []byte(filter)) {
				continue
			}
			ts, perr := parseTimestamp(line)
			if perr != nil {
				return time.Time{}, false, &errs.LogParseError{Path: path, Line: string(line), Err: perr}
			}
			return ts, true, nil
		}
		if pos == 0 {
			break
		}
	}

	return time.Time{}, false, nil
}

// splitLines splits on '\n', keeping line contents without the terminator.
func splitLines(b []byte) [][]byte {
	return bytes.Split(b, []byte("\n"))
}

// parseTimestamp extracts the bracketed "[dd/Mon/YYYY:HH:MM:SS +zzzz]" field
// from an nginx-style access-log line and parses it.
func parseTimestamp(line []byte) (time.Time, error) {
	open := bytes.IndexByte(line, '[')
	if open < 0 {
		return time.Time{}, fmt.Errorf("no bracketed timestamp in line")
	}
	rest := line[open+1:]
	closeIdx := bytes.IndexByte(rest, ']')
	if closeIdx < 0 {
		return time.Time{}, fmt.Errorf("unterminated bracketed timestamp in line")
	}
	raw := string(rest[:closeIdx])
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return t, nil
}
