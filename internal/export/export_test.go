package export_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/export"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func customers() []domain.Customer {
	return []domain.Customer{
		{
			Name:             "Ana",
			Phone:            "11999",
			Email:            "ana@example.com",
			Status:           domain.StatusActive,
			RegistrationDate: time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			Name:   "Bob, Filho",
			Phone:  "22888",
			Status: domain.StatusPending,
		},
	}
}

func TestCSV_LiteralFormat(t *testing.T) {
	out := export.CSV(customers())

	require.True(t, bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}), "missing BOM")

	lines := strings.Split(strings.TrimPrefix(string(out), "\uFEFF"), "\n")
	require.Equal(t, "Nome,Telefone,E-mail,Status,Data Cadastro", lines[0])
	require.Equal(t, "Ana,11999,ana@example.com,active,07/05/2024", lines[1])
	// Embedded commas are not escaped.
	require.Equal(t, "Bob, Filho,22888,,pending,", lines[2])
}

func TestCSV_EmptyListHasHeaderOnly(t *testing.T) {
	out := string(export.CSV(nil))
	require.Equal(t, "\uFEFFNome,Telefone,E-mail,Status,Data Cadastro\n", out)
}

func TestFilenames(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "clientes_export_2024-12-31.csv", export.CSVFilename(now))
	require.Equal(t, "clientes_export_2024-12-31.xlsx", export.XLSXFilename(now))
}

func TestXLSX_WritesHeaderAndRows(t *testing.T) {
	data, err := export.XLSX(customers())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Clientes")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, export.Header, rows[0])
	require.Equal(t, "Ana", rows[1][0])
	require.Equal(t, "07/05/2024", rows[1][4])
}
