package typeset

import (
	"bytes"
	"fmt"
	"strings"
)

// SynthesizePDF builds a minimal single-font PDF with one entry of pages per
// element, each page showing its lines as Tj operators. The output parses
// with CountPages and ExtractText, which is what the scripted compiler and
// the tests rely on.
func SynthesizePDF(pages [][]string) []byte {
	if len(pages) == 0 {
		pages = [][]string{nil}
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	n := len(pages)
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, lines := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1

		var content strings.Builder
		content.WriteString("BT /F1 11 Tf 72 720 Td\n")
		for j, line := range lines {
			if j > 0 {
				content.WriteString("0 -14 Td\n")
			}
			fmt.Fprintf(&content, "(%s) Tj\n", escapeString(line))
		}
		content.WriteString("ET")
		body := content.String()

		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum,
		))
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body))
	}

	entries := 4 + 2*n // xref entries including the free object 0
	xrefOff := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", entries)
	for i := 1; i < entries; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", entries, xrefOff)

	return buf.Bytes()
}

// escapeString escapes the PDF literal-string delimiters.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	return s
}
