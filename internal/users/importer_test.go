package users

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tetbloom/tetbloom/internal/access"
)

func TestParseImportCSVHeadersAnyOrder(t *testing.T) {
	data := "\xef\xbb\xbfRole, Full Name ,EMAIL,Subject,error\n" +
		"teacher,Jane Doe,jane@example.com,Maths,old failure\n" +
		",,,,\n" +
		"admin,Sam Lee,sam@example.com,,\n"

	rows, err := ParseImport("people.CSV", strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ImportRow{Line: 2, Email: "jane@example.com", Name: "Jane Doe", Role: "teacher", Subject: "Maths"}, rows[0])
	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "admin", rows[1].Role)
}

func TestParseImportRejections(t *testing.T) {
	_, err := ParseImport("people.txt", strings.NewReader("email,name,role\n"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = ParseImport("people.csv", strings.NewReader("email,role\na@example.com,teacher\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	_, err = ParseImport("people.csv", strings.NewReader("email,name,role\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	big := bytes.Repeat([]byte("x"), MaxImportBytes+1)
	_, err = ParseImport("people.csv", bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	var sb strings.Builder
	sb.WriteString("email,name,role\n")
	for i := 0; i <= MaxImportRows; i++ {
		sb.WriteString("a@example.com,A,teacher\n")
	}
	_, err = ParseImport("people.csv", strings.NewReader(sb.String()))
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestParseImportXLSXTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplateXLSX(&buf))

	book, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Users"}, book.GetSheetList())
	require.NoError(t, book.Close())

	rows, err := ParseImport("template.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, rows, len(templateExamples))
	assert.Equal(t, "jane.doe@school.edu", rows[0].Email)
	assert.Equal(t, "Deputy principal", rows[1].Notes)
}

func TestImportCollectsRowErrors(t *testing.T) {
	svc, _, mail, audit := newTestService(superUser())
	rows := []ImportRow{
		{Line: 2, Email: "new@example.com", Name: "New Teacher", Role: "teacher"},
		{Line: 3, Email: "NEW@example.com", Name: "Twin", Role: "teacher"},
		{Line: 4, Email: "super@example.com", Name: "Exists", Role: "teacher"},
		{Line: 5, Email: "odd@example.com", Name: "Odd", Role: "janitor"},
		{Line: 6, Email: "", Name: "No Mail", Role: "teacher"},
		{Line: 7, Email: "lead@example.com", Name: "Lead", Role: "Principal"},
	}

	result, err := svc.Import(context.Background(), superID, rows)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Total)
	require.Len(t, result.Created, 2)
	assert.Equal(t, access.RoleAdministrator, result.Created[1].Role)

	byLine := make(map[int]string)
	for _, f := range result.Failed {
		byLine[f.Row.Line] = f.Message
	}
	assert.Contains(t, byLine[3], "line 2")
	assert.Equal(t, "Email already registered.", byLine[4])
	assert.Contains(t, byLine[5], "Unknown role")
	assert.Contains(t, byLine[6], "required")

	assert.Len(t, mail.sent, 2)
	assert.Equal(t, []string{"user.import"}, audit.actions()[len(audit.actions())-1:])
}

func TestErrorReportCanBeReuploaded(t *testing.T) {
	failed := []RowError{{Row: ImportRow{Line: 3, Email: "x@example.com", Name: "X", Role: "janitor"}, Message: "Unknown role"}}
	var buf bytes.Buffer
	require.NoError(t, WriteErrorReport(&buf, failed))

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "error", records[0][6])
	assert.Equal(t, "Unknown role", records[1][6])

	rows, err := ParseImport("errors.csv", &buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x@example.com", rows[0].Email)
}
