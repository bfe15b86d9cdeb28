package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-pkgz/fileutils"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/drugwatch/lib/textclass"
)

var csvHeader = []string{"text", "label"}

// WriteCSV writes examples as csv with "text,label" header
func WriteCSV(w io.Writer, examples []textclass.Example) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, ex := range examples {
		if err := cw.Write([]string{ex.Text, strconv.Itoa(int(ex.Label))}); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// ReadCSV reads examples from csv with "text" and "label" columns, in any order and with any extra columns.
// All malformed rows are reported together, no examples returned in this case.
func ReadCSV(r io.Reader) ([]textclass.Example, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv, header expected")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	textIdx, labelIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "text":
			textIdx = i
		case "label":
			labelIdx = i
		}
	}
	if textIdx < 0 || labelIdx < 0 {
		return nil, fmt.Errorf("header must have text and label columns, got %v", header)
	}

	res := []textclass.Example{}
	errs := new(multierror.Error)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierror.Append(errs, err) // csv.ParseError has the line number
			continue
		}
		line, _ := cr.FieldPos(0)
		if len(rec) <= max(textIdx, labelIdx) {
			errs = multierror.Append(errs, fmt.Errorf("line %d: expected at least %d fields, got %d",
				line, max(textIdx, labelIdx)+1, len(rec)))
			continue
		}
		lbl, err := strconv.Atoi(strings.TrimSpace(rec[labelIdx]))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: bad label %q", line, rec[labelIdx]))
			continue
		}
		ex := textclass.Example{Text: rec[textIdx], Label: textclass.Label(lbl)}
		if err := ex.Label.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		res = append(res, ex)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return res, nil
}

// SaveCSV writes examples to the csv file, making parent directory if needed
func SaveCSV(path string, examples []textclass.Example) error {
	if dir := filepath.Dir(path); !fileutils.IsDir(dir) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to make directory %s: %w", dir, err)
		}
	}
	fh, err := os.Create(path) //nolint:gosec // path is set by the operator
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(fh, examples); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// LoadCSV reads examples from the csv file
func LoadCSV(path string) ([]textclass.Example, error) {
	if !fileutils.IsFile(path) {
		return nil, fmt.Errorf("dataset file %s not found", path)
	}
	fh, err := os.Open(path) //nolint:gosec // path is set by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()
	res, err := ReadCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return res, nil
}
