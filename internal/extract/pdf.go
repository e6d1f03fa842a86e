package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfPages adapts a ledongthuc/pdf reader to PageSource.
type pdfPages struct {
	r *pdf.Reader
}

func openPDF(content []byte) (pages *pdfPages, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	return &pdfPages{r: r}, nil
}

func (p *pdfPages) NumPage() int {
	return p.r.NumPage()
}

// PageText returns the plain text of page n. The PDF decoder panics on some
// malformed content streams; that is reported as an error for the page.
func (p *pdfPages) PageText(n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", n, r)
		}
	}()
	page := p.r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
