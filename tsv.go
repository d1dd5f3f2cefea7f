// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// tsvReader reads a tab-separated file whose first non-empty line is
// a header naming the columns. Later lines starting with "#" are
// comments.
type tsvReader struct {
	name    string
	scanner *bufio.Scanner
	columns map[string]int
	line    int
	fields  []string
}

func newTSVReader(name string, r io.Reader) (*tsvReader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	tr := &tsvReader{name: name, scanner: scanner, columns: map[string]int{}}
	for scanner.Scan() {
		tr.line++
		header := strings.TrimRight(scanner.Text(), "\r")
		if header == "" {
			continue
		}
		for i, col := range strings.Split(header, "\t") {
			tr.columns[strings.TrimSpace(col)] = i
		}
		return tr, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return nil, fmt.Errorf("%s: no header row", name)
}

// column returns the index of the first of names present in the
// header, or -1.
func (tr *tsvReader) column(names ...string) int {
	for _, name := range names {
		if i, ok := tr.columns[name]; ok {
			return i
		}
	}
	return -1
}

// require is like column, but returns an error if none of names is
// present.
func (tr *tsvReader) require(names ...string) (int, error) {
	i := tr.column(names...)
	if i < 0 {
		return -1, fmt.Errorf("%s: no column named %q in header row", tr.name, names[0])
	}
	return i, nil
}

// Next advances to the next data row. It returns false at EOF or on
// error; check Err.
func (tr *tsvReader) Next() bool {
	for tr.scanner.Scan() {
		tr.line++
		text := strings.TrimRight(tr.scanner.Text(), "\r")
		if text == "" || text[0] == '#' {
			continue
		}
		tr.fields = strings.Split(text, "\t")
		return true
	}
	return false
}

func (tr *tsvReader) Err() error {
	if err := tr.scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", tr.name, err)
	}
	return nil
}

// Field returns the value in column i of the current row, or "" if i
// is negative or the row is short.
func (tr *tsvReader) Field(i int) string {
	if i < 0 || i >= len(tr.fields) {
		return ""
	}
	return strings.TrimSpace(tr.fields[i])
}

func (tr *tsvReader) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", tr.name, tr.line, fmt.Sprintf(format, args...))
}

// Float parses column i. Missing values ("", "NA", "*") are NaN.
func (tr *tsvReader) Float(i int) (float64, error) {
	s := tr.Field(i)
	if isMissing(s) {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, tr.errorf("invalid number %q", s)
	}
	return f, nil
}

// OptionalFloat is like Float, but returns 0 for missing values.
func (tr *tsvReader) OptionalFloat(i int) (float64, error) {
	f, err := tr.Float(i)
	if err == nil && math.IsNaN(f) {
		return 0, nil
	}
	return f, err
}

// Int parses column i. Missing values are 0.
func (tr *tsvReader) Int(i int) (int64, error) {
	s := tr.Field(i)
	if isMissing(s) {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, tr.errorf("invalid integer %q", s)
	}
	return n, nil
}

// RequiredInt is like Int, but a missing value is an error.
func (tr *tsvReader) RequiredInt(i int, name string) (int64, error) {
	if isMissing(tr.Field(i)) {
		return 0, tr.errorf("missing %s", name)
	}
	return tr.Int(i)
}

func isMissing(s string) bool {
	return s == "" || s == "NA" || s == "*"
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NA"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
