/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

// ReadCSV ingests one CSV table into the bundle. The delimiter is sniffed
// between comma and semicolon because the cost export uses the European
// semicolon convention.
func (b *Bundle) ReadCSV(kind Kind, r io.Reader, n *normalize.Normalizer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s csv: %w", kind, err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return &DataError{Source: string(kind), Msg: err.Error()}
	}
	return b.MergeRows(kind, rows, n)
}

// ReadXLSX ingests the first sheet of a spreadsheet into the bundle.
func (b *Bundle) ReadXLSX(kind Kind, r io.Reader, n *normalize.Normalizer) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return &DataError{Source: string(kind), Msg: err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &DataError{Source: string(kind), Msg: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return &DataError{Source: string(kind), Msg: err.Error()}
	}
	return b.MergeRows(kind, rows, n)
}

// sniffDelimiter picks semicolon when the first line carries more of them
// than commas.
func sniffDelimiter(data []byte) rune {
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
