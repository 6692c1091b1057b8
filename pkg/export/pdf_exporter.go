package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// DocumentField is a single labelled value on a rendered report document.
type DocumentField struct {
	Label string
	Value string
}

// PDFExporter renders record reports into printable PDF documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderDocument creates a single-record report: a centered title followed by
// a two-column label/value table and an optional free-text footer block.
func (e *PDFExporter) RenderDocument(title string, fields []DocumentField, footer string) ([]byte, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("pdf document requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	labelWidth := 60.0
	valueWidth := 120.0
	for _, field := range fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(labelWidth, 8, field.Label, "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(valueWidth, 8, field.Value, "1", 1, "", false, 0, "")
	}

	if footer != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, footer, "", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
