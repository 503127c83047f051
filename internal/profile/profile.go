package profile

// #region imports
import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// #endregion

// #region types

// Profile maps a function name to its raw AFDO body blob. The blob is
// everything after the function name on the header line (starting with ":")
// plus every subsequent indented sample line, verbatim with newlines, so
// serializing a profile reproduces the decider-facing text exactly. The
// engine never interprets the blob; only the name→body association matters.
type Profile map[string]string

// #endregion types

// #region errors

// ErrBodyBeforeHeader reports an indented sample line appearing before any
// function header. Skipping such lines would hide a truncated profile from
// the sanity checks, so parsing fails instead.
var ErrBodyBeforeHeader = errors.New("sample line before any function header")

// ErrMalformedHeader reports a header line with no ":" separator.
var ErrMalformedHeader = errors.New("function header without ':'")

// #endregion

// #region parse

// Parse reads a text AFDO profile. A header line is any line not beginning
// with a space or tab; the function name is the substring before the first
// ":". Body lines belong to the most recent header. Empty input yields an
// empty profile.
func Parse(r io.Reader) (Profile, error) {
	prof := Profile{}
	var curr string
	var body strings.Builder
	haveFunc := false
	flush := func() {
		if haveFunc {
			prof[curr] = body.String()
			body.Reset()
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if !haveFunc {
				return nil, fmt.Errorf("line %d: %w", lineNum, ErrBodyBeforeHeader)
			}
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("line %d: %w", lineNum, ErrMalformedHeader)
		}
		flush()
		curr = line[:idx]
		haveFunc = true
		body.WriteString(line[idx:])
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	flush()
	return prof, nil
}

// #endregion parse

// #region text

// Text serializes the profile in sorted function-name order. For input that
// was already name-sorted this is the bit-exact inverse of Parse.
func (p Profile) Text() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(p[name])
	}
	return b.String()
}

// #endregion text

// #region files

// LoadFile parses the profile at path.
func LoadFile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	prof, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return prof, nil
}

// WriteFile serializes the profile to path.
func (p Profile) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(p.Text()), 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// #endregion files

// #region clone

// Clone returns a shallow copy safe to overlay hybrid entries onto.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for name, body := range p {
		out[name] = body
	}
	return out
}

// #endregion clone
