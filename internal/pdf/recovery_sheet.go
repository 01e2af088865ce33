package pdf

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Generator is the interface handed to the mailer (easy to fake in tests).
type Generator interface {
	RecoveryCodes(w io.Writer, data RecoverySheetData) error
}

// SheetGenerator renders one-page printable sheets.
type SheetGenerator struct {
	FontPath string // TTF with Cyrillic glyphs, e.g. "assets/fonts/DejaVuSans.ttf"
	AppName  string
	fontName string
}

type RecoverySheetData struct {
	Name      string
	Email     string
	Codes     []string
	CreatedAt time.Time
}

func NewSheetGenerator(fontPath, appName string) *SheetGenerator {
	return &SheetGenerator{FontPath: fontPath, AppName: appName, fontName: "DejaVu"}
}

// RecoveryCodes writes the recovery-code sheet as PDF to w. Nothing is
// written to disk: the codes exist in plaintext only in this buffer and
// the outgoing email.
func (g *SheetGenerator) RecoveryCodes(w io.Writer, data RecoverySheetData) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Recovery codes", true)
	pdf.SetAuthor(g.AppName, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	font := g.setupFont(pdf)
	pdf.AddPage()

	pdf.SetFont(font, "B", 18)
	pdf.CellFormat(0, 10, g.AppName+" recovery codes", "", 1, "C", false, 0, "")
	pdf.SetFont(font, "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("%s <%s>, %s", data.Name, data.Email, data.CreatedAt.Format("02.01.2006")), "", 1, "C", false, 0, "")
	g.hr(pdf)

	pdf.SetFont(font, "", 11)
	pdf.MultiCell(0, 6, "Each code can be used once to finish a two-factor login when the emailed code is not available. "+
		"Keep this sheet somewhere safe. The codes will not be shown again.", "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 16)
	for i, code := range data.Codes {
		ln := 0
		if i%2 == 1 {
			ln = 1
		}
		pdf.CellFormat(85, 12, fmt.Sprintf("%d. %s", i+1, code), "1", ln, "C", false, 0, "")
	}
	if len(data.Codes)%2 == 1 {
		pdf.Ln(12)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render recovery sheet: %w", err)
	}
	return nil
}

// setupFont registers the UTF-8 font when it exists on disk and falls back
// to the core Helvetica font otherwise.
func (g *SheetGenerator) setupFont(pdf *gofpdf.Fpdf) string {
	if g.FontPath == "" {
		return "Helvetica"
	}
	if _, err := os.Stat(g.FontPath); err != nil {
		return "Helvetica"
	}
	pdf.AddUTF8Font(g.fontName, "", g.FontPath)
	pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
	return g.fontName
}

func (g *SheetGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}
