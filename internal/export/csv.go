// Package export renders the customer list as downloadable files.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
)

// Header is the fixed column set shared by every export format.
var Header = []string{"Nome", "Telefone", "E-mail", "Status", "Data Cadastro"}

const (
	bom        = "\uFEFF"
	dateLayout = "02/01/2006"
)

// CSVFilename returns clientes_export_<YYYY-MM-DD>.csv for now.
func CSVFilename(now time.Time) string {
	return fmt.Sprintf("clientes_export_%s.csv", now.Format("2006-01-02"))
}

// XLSXFilename returns clientes_export_<YYYY-MM-DD>.xlsx for now.
func XLSXFilename(now time.Time) string {
	return fmt.Sprintf("clientes_export_%s.xlsx", now.Format("2006-01-02"))
}

// CSV renders customers in the given order. Output starts with a UTF-8 BOM
// and fields are joined with commas as-is: embedded commas and quotes are
// not escaped.
func CSV(customers []domain.Customer) []byte {
	var buf bytes.Buffer
	buf.WriteString(bom)
	buf.WriteString(strings.Join(Header, ","))
	buf.WriteString("\n")
	for _, c := range customers {
		buf.WriteString(strings.Join(row(c), ","))
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

func row(c domain.Customer) []string {
	date := ""
	if !c.RegistrationDate.IsZero() {
		date = c.RegistrationDate.Format(dateLayout)
	}
	return []string{c.Name, c.Phone, c.Email, string(c.Status), date}
}
