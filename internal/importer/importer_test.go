package importer

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestParse_Workbook(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"UHI No", "Patient Name", "Department"},
		{"U100", "Jane Doe", "Obstetrics"},
		{"", "", ""},
		{" U200 ", "Ann Lee", "GYNECOLOGY"},
		{12345, "Numeric Id"},
	})

	rows, err := Parse(buf, "admissions.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, patient.BulkRow{UHINo: "U100", Name: "Jane Doe", Department: "Obstetrics"}, rows[0])
	assert.Equal(t, "U200", strings.TrimSpace(rows[1].UHINo))
	assert.Equal(t, "12345", rows[2].UHINo)
	assert.Empty(t, rows[2].Department)
}

func TestParse_HeaderAliasesAndOrder(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Redirection", "Name", "UHINo"},
		{"gynecology", "Mary", "U9"},
	})
	rows, err := Parse(buf, "LIST.XLSX")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, patient.BulkRow{UHINo: "U9", Name: "Mary", Department: "gynecology"}, rows[0])
}

func TestParse_CSV(t *testing.T) {
	in := "\ufeffuhi,name,department\nU1,Jane,obstetrics\n,,\nU2,Ann\n"
	rows, err := Parse(strings.NewReader(in), "walkins.csv")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "U1", rows[0].UHINo)
	assert.Equal(t, "Ann", rows[1].Name)
	assert.Empty(t, rows[1].Department)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		contains string
	}{
		{"unsupported", "notes.pdf", "x", "unsupported file type"},
		{"header only", "a.csv", "uhino,name\n", "no data rows"},
		{"only blanks", "a.csv", "uhino,name\n ,\n", "no data rows"},
		{"missing uhi column", "a.csv", "id,name\n1,a\n", "missing UHI No column"},
		{"missing name column", "a.csv", "uhino,dept\n1,a\n", "missing Name column"},
		{"corrupt workbook", "a.xlsx", "not a zip", "failed to parse Excel file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body), tt.filename)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestTemplate_RoundTrip(t *testing.T) {
	data, err := Template()
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "Admissions", f.GetSheetName(0))
	rows, err := f.GetRows("Admissions")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Header, rows[0])

	_, err = Parse(bytes.NewReader(data), "template.xlsx")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestTemplateHandler(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, TemplateHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "admissions_template.xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestParseSatisfiesRowParser(t *testing.T) {
	var _ patient.RowParser = Parse
}
