// Package importer reads admission spreadsheets into bulk-create rows.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
)

// Header is the column layout of the downloadable template.
var Header = []string{"UHI No", "Name", "Department"}

const (
	colUHINo = iota
	colName
	colDepartment
)

// headerAliases maps normalized header text to a column.
var headerAliases = map[string]int{
	"uhino":        colUHINo,
	"uhi no":       colUHINo,
	"uhi":          colUHINo,
	"uhi number":   colUHINo,
	"name":         colName,
	"patient name": colName,
	"patientname":  colName,
	"department":   colDepartment,
	"redirection":  colDepartment,
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file type: expected .xlsx or .csv")
	ErrNoSheet           = errors.New("spreadsheet has no sheets")
	ErrNoRows            = errors.New("spreadsheet has no data rows")
)

// Parse reads the first sheet of an .xlsx workbook, or a .csv file, and
// returns one row per non-blank line after the header. Cell values are passed
// through untrimmed; validation happens in the patient service.
func Parse(r io.Reader, filename string) ([]patient.BulkRow, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		records, err = readWorkbook(r)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return rowsFrom(records)
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV file: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

func rowsFrom(records [][]string) ([]patient.BulkRow, error) {
	if len(records) < 2 {
		return nil, ErrNoRows
	}

	index := map[int]int{}
	for i, h := range records[0] {
		if col, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, seen := index[col]; !seen {
				index[col] = i
			}
		}
	}
	if _, ok := index[colUHINo]; !ok {
		return nil, fmt.Errorf("missing UHI No column in header %q", records[0])
	}
	if _, ok := index[colName]; !ok {
		return nil, fmt.Errorf("missing Name column in header %q", records[0])
	}

	cell := func(row []string, col int) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]patient.BulkRow, 0, len(records)-1)
	for _, row := range records[1:] {
		if blank(row) {
			continue
		}
		out = append(out, patient.BulkRow{
			UHINo:      cell(row, colUHINo),
			Name:       cell(row, colName),
			Department: cell(row, colDepartment),
		})
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(".", "", "_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Template builds an empty admissions workbook with the expected header.
func Template() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Admissions"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	for col, header := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(sheetName, "A", "C", 20); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TemplateHandler serves the admissions template as a download.
func TemplateHandler(c echo.Context) error {
	data, err := Template()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build template").SetInternal(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="admissions_template.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, data)
}
