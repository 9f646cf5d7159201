package blocklist

import (
	"bufio"
	"io"
	"strings"
)

// ParseEntry canonicalizes one raw feed line. It returns the entry and true,
// or "" and false if the line carries no data (blank or comment).
//
// Upstream feeds mix formats: bare IPs, CIDRs, domains, full-line comments,
// and trailing annotations after '#', ';' or a tab. The earliest of those
// three markers ends the data portion of the line.
func ParseEntry(line string, kind Kind) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}

	if i := strings.IndexAny(line, "#;\t"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	if kind == KindEmail {
		line = strings.ToLower(line)
	}
	return line, true
}

// ParseFeed reads newline-separated feed data and hands every canonical
// entry to fn. Duplicate entries are passed through; the index collapses
// them. Line-level junk is dropped silently.
func ParseFeed(r io.Reader, kind Kind, fn func(entry string)) error {
	sc := bufio.NewScanner(r)
	// Feed lines are short, but a broken upstream should not kill the load.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if entry, ok := ParseEntry(sc.Text(), kind); ok {
			fn(entry)
		}
	}
	return sc.Err()
}
