package users

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// Import limits.
const (
	MaxImportBytes = 5 << 20
	MaxImportRows  = 1000
)

var (
	ErrUnsupportedFile = shared.Invalid("file", "Upload a .csv or .xlsx file.")
	ErrFileTooLarge    = shared.Invalid("file", "The file is larger than 5 MB.")
	ErrTooManyRows     = shared.Invalid("file", fmt.Sprintf("The file has more than %d rows. Split it and upload the parts.", MaxImportRows))
	ErrEmptyFile       = shared.Invalid("file", "The file has no user rows.")
)

// Import column names. Email, name and role are required.
var importColumns = []string{"email", "name", "role", "subject", "grade", "notes"}

var headerAliases = map[string]string{
	"email":         "email",
	"email_address": "email",
	"name":          "name",
	"full_name":     "name",
	"role":          "role",
	"subject":       "subject",
	"grade":         "grade",
	"notes":         "notes",
}

// ImportRow is one data row of an uploaded file. Line is the 1-based line
// number in the file, the header being line 1.
type ImportRow struct {
	Line    int    `json:"line"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
	Notes   string `json:"notes"`
}

func (r ImportRow) blank() bool {
	return r.Email == "" && r.Name == "" && r.Role == "" && r.Subject == "" && r.Grade == "" && r.Notes == ""
}

// RowError reports why a row was not imported.
type RowError struct {
	Row     ImportRow `json:"row"`
	Message string    `json:"message"`
}

// ImportResult summarises one import run.
type ImportResult struct {
	ID      string
	Total   int
	Created []User
	Failed  []RowError
}

// ParseImport reads a .csv or .xlsx upload into rows.
func ParseImport(filename string, r io.Reader) ([]ImportRow, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".csv" && ext != ".xlsx" {
		return nil, ErrUnsupportedFile
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("users: read upload: %w", err)
	}
	if len(data) > MaxImportBytes {
		return nil, ErrFileTooLarge
	}

	var records [][]string
	switch ext {
	case ".csv":
		records, err = readCSV(data)
	case ".xlsx":
		records, err = readXLSX(data)
	}
	if err != nil {
		return nil, err
	}
	return rowsFromRecords(records)
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, shared.Invalid("file", "The CSV file could not be read: "+err.Error())
	}
	return records, nil
}

func readXLSX(data []byte) ([][]string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, shared.Invalid("file", "The Excel file could not be read.")
	}
	defer func() { _ = book.Close() }()
	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, shared.Invalid("file", "The first sheet could not be read.")
	}
	return rows, nil
}

func rowsFromRecords(records [][]string) ([]ImportRow, error) {
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	index := make(map[string]int)
	for i, h := range records[0] {
		key := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(h, "_", " "))), "_")
		if col, ok := headerAliases[key]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}
	var missing []string
	for _, col := range importColumns[:3] {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, shared.Invalid("file", "Missing required columns: "+strings.Join(missing, ", ")+".")
	}

	cell := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	var rows []ImportRow
	for n, record := range records[1:] {
		row := ImportRow{
			Line:    n + 2,
			Email:   cell(record, "email"),
			Name:    cell(record, "name"),
			Role:    cell(record, "role"),
			Subject: cell(record, "subject"),
			Grade:   cell(record, "grade"),
			Notes:   cell(record, "notes"),
		}
		if row.blank() {
			continue
		}
		rows = append(rows, row)
		if len(rows) > MaxImportRows {
			return nil, ErrTooManyRows
		}
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

// Import validates every row and creates the valid ones. Invalid rows are
// returned with a reason so they can be fixed and uploaded again.
func (s *Service) Import(ctx context.Context, actorID string, rows []ImportRow) (*ImportResult, error) {
	result := &ImportResult{ID: uuid.NewString(), Total: len(rows)}
	firstSeen := make(map[string]int)
	var (
		pending []NewUser
		source  []ImportRow
	)
	for _, row := range rows {
		nu, err := s.prepare(CreateInput{Email: row.Email, FullName: row.Name, Role: row.Role, Subject: row.Subject, Grade: row.Grade})
		if err != nil {
			result.Failed = append(result.Failed, RowError{Row: row, Message: shared.UserSafeMessage(err)})
			continue
		}
		if line, dup := firstSeen[nu.Email]; dup {
			result.Failed = append(result.Failed, RowError{Row: row, Message: fmt.Sprintf("Duplicate email in file (first seen on line %d).", line)})
			continue
		}
		firstSeen[nu.Email] = row.Line
		pending = append(pending, nu)
		source = append(source, row)
	}

	emails := make([]string, 0, len(pending))
	for _, nu := range pending {
		emails = append(emails, nu.Email)
	}
	existing, err := s.repo.ExistingEmails(ctx, emails)
	if err != nil {
		return nil, err
	}

	for i, nu := range pending {
		if existing[nu.Email] {
			result.Failed = append(result.Failed, RowError{Row: source[i], Message: "Email already registered."})
			continue
		}
		created, err := s.repo.Create(ctx, nu)
		if err != nil {
			if !errors.Is(err, shared.ErrDuplicate) {
				s.logger.Error("import row", slog.Int("line", source[i].Line), slog.Any("error", err))
			}
			result.Failed = append(result.Failed, RowError{Row: source[i], Message: shared.UserSafeMessage(err)})
			continue
		}
		result.Created = append(result.Created, *created)
		s.invite(ctx, created)
	}

	s.record(ctx, actorID, "user.import", result.ID, map[string]any{
		"total":   result.Total,
		"created": len(result.Created),
		"failed":  len(result.Failed),
	})
	s.logger.Info("users imported",
		slog.String("import_id", result.ID),
		slog.Int("created", len(result.Created)),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}

// roleHint lists accepted role spellings for the import page.
func roleHint() string {
	names := make([]string, 0, 3)
	for _, r := range access.Roles() {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}
