package peer

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	commentMarker = "#"
	separator     = "="
)

// Descriptor is one peer descriptor file: a flat key/value record. Keys the
// generator does not know are kept as-is for the template.
type Descriptor struct {
	// Source is the path the descriptor was read from.
	Source string
	Fields map[string]string
}

// Get returns the value of key and whether it was present.
func (d Descriptor) Get(key string) (string, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// MaxLineLength bounds one descriptor line. Longer lines are skipped like
// any other malformed line.
const MaxLineLength = 64 * 1024

// Parse reads `key = value` lines. Blank lines, lines starting with '#',
// lines without '=' and lines longer than MaxLineLength are skipped. The line
// is split on the first '=' and a later occurrence of a key replaces an
// earlier one.
func Parse(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)

	reader := bufio.NewReader(r)
	var line []byte
	tooLong := false
	for {
		fragment, isPrefix, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if !tooLong {
			line = append(line, fragment...)
			if len(line) > MaxLineLength {
				tooLong = true
			}
		}
		if isPrefix {
			continue
		}

		if !tooLong {
			parseLine(fields, string(line))
		}
		line = line[:0]
		tooLong = false
	}

	return fields, nil
}

func parseLine(fields map[string]string, raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, commentMarker) {
		return
	}

	key, value, found := strings.Cut(line, separator)
	if !found {
		return
	}
	fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
}
