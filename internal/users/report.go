package users

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

var templateExamples = [][]string{
	{"jane.doe@school.edu", "Jane Doe", "teacher", "Mathematics", "Grade 7", ""},
	{"sam.lee@school.edu", "Sam Lee", "administrator", "", "", "Deputy principal"},
	{"alex.kim@school.edu", "Alex Kim", "teacher", "Science", "Grade 9", "Joins in term 2"},
}

// WriteErrorReport writes the failed rows as CSV. The file keeps the import
// columns so it can be corrected and uploaded again; the extra columns are
// ignored on upload.
func WriteErrorReport(w io.Writer, failed []RowError) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, importColumns...), "error", "line")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, f := range failed {
		r := f.Row
		if err := cw.Write([]string{r.Email, r.Name, r.Role, r.Subject, r.Grade, r.Notes, f.Message, strconv.Itoa(r.Line)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTemplateCSV writes the import template as CSV.
func WriteTemplateCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(importColumns); err != nil {
		return err
	}
	if err := cw.WriteAll(templateExamples); err != nil {
		return err
	}
	return cw.Error()
}

// WriteTemplateXLSX writes the import template as an Excel workbook.
func WriteTemplateXLSX(w io.Writer) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	const sheet = "Users"
	if err := book.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	header := make([]any, len(importColumns))
	for i, c := range importColumns {
		header[i] = c
	}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, example := range templateExamples {
		row := make([]any, len(example))
		for j, v := range example {
			row[j] = v
		}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := book.SetSheetRow(sheet, cellRef, &row); err != nil {
			return err
		}
	}
	bold, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := book.SetCellStyle(sheet, "A1", "F1", bold); err != nil {
		return err
	}
	if err := book.SetColWidth(sheet, "A", "A", 30); err != nil {
		return err
	}
	if err := book.SetColWidth(sheet, "B", "F", 18); err != nil {
		return err
	}
	return book.Write(w)
}
