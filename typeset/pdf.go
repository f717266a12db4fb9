package typeset

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Page trees carry the authoritative /Count; leaf pages are the fallback.
var (
	pagesCountRe = regexp.MustCompile(`/Type\s*/Pages\b[^>]*?/Count\s+(\d+)`)
	countPagesRe = regexp.MustCompile(`/Count\s+(\d+)[^>]*?/Type\s*/Pages\b`)
	pageLeafRe   = regexp.MustCompile(`/Type\s*/Page\b`)
)

// CountPages measures a PDF by reading the page tree's /Count entry,
// falling back to counting leaf /Type /Page objects. It understands the
// flat page trees produced by document compilers; exotic layouts (nested
// trees without a root count, object streams) are out of scope.
func CountPages(pdf []byte) (int, error) {
	maxCount := 0
	for _, re := range []*regexp.Regexp{pagesCountRe, countPagesRe} {
		for _, m := range re.FindAllSubmatch(pdf, -1) {
			if n, err := strconv.Atoi(string(m[1])); err == nil && n > maxCount {
				maxCount = n
			}
		}
	}
	if maxCount > 0 {
		return maxCount, nil
	}

	if n := len(pageLeafRe.FindAllIndex(pdf, -1)); n > 0 {
		return n, nil
	}

	return 0, fmt.Errorf("no page tree found")
}

var (
	tjRe    = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*Tj`)
	tjArrRe = regexp.MustCompile(`\[[^\[\]]*\]\s*TJ`)
	strRe   = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

// ExtractText pulls plain text out of a PDF's content streams (Tj and TJ
// operators, FlateDecode supported). It is best effort: glyph-subsetted
// output from real compilers may not yield usable text, in which case an
// error is returned and callers fall back to the markup source.
func ExtractText(pdf []byte) (string, error) {
	var sb strings.Builder

	for _, s := range contentStreams(pdf) {
		data := s.data
		if bytes.Contains(s.dict, []byte("/FlateDecode")) {
			r, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				continue
			}
			decoded, err := io.ReadAll(r)
			r.Close() //nolint:errcheck
			if err != nil {
				continue
			}
			data = decoded
		}

		text := textFromContent(data)
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text)
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("no extractable text")
	}
	return out, nil
}

// stream pairs a content stream's body with the object dictionary before it.
type stream struct {
	dict []byte
	data []byte
}

// contentStreams locates stream ... endstream spans and their dictionaries.
func contentStreams(pdf []byte) []stream {
	var out []stream

	rest := pdf
	base := 0
	for {
		idx := bytes.Index(rest, []byte("stream"))
		if idx < 0 {
			break
		}
		abs := base + idx

		// Skip "endstream" matches and require the keyword at a dict end.
		if abs >= 3 && bytes.Equal(pdf[abs-3:abs], []byte("end")) {
			base = abs + len("stream")
			rest = pdf[base:]
			continue
		}

		dataStart := abs + len("stream")
		if dataStart < len(pdf) && pdf[dataStart] == '\r' {
			dataStart++
		}
		if dataStart < len(pdf) && pdf[dataStart] == '\n' {
			dataStart++
		}

		end := bytes.Index(pdf[dataStart:], []byte("endstream"))
		if end < 0 {
			break
		}

		dictStart := 0
		if objIdx := bytes.LastIndex(pdf[:abs], []byte("obj")); objIdx >= 0 {
			dictStart = objIdx
		}

		out = append(out, stream{
			dict: pdf[dictStart:abs],
			data: pdf[dataStart : dataStart+end],
		})

		base = dataStart + end + len("endstream")
		rest = pdf[base:]
	}

	return out
}

// textFromContent collects the text-showing operators of one content stream.
func textFromContent(data []byte) string {
	var parts []string

	for _, m := range tjRe.FindAllSubmatch(data, -1) {
		parts = append(parts, unescapeString(string(m[1])))
	}
	for _, arr := range tjArrRe.FindAll(data, -1) {
		var piece strings.Builder
		for _, m := range strRe.FindAllSubmatch(arr, -1) {
			piece.WriteString(unescapeString(string(m[1])))
		}
		if piece.Len() > 0 {
			parts = append(parts, piece.String())
		}
	}

	return strings.Join(parts, "\n")
}

// unescapeString resolves PDF literal-string escapes.
func unescapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '(', ')', '\\':
			b.WriteByte(s[i])
		default:
			if s[i] >= '0' && s[i] <= '7' {
				v := 0
				j := i
				for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
					v = v*8 + int(s[j]-'0')
					j++
				}
				b.WriteByte(byte(v))
				i = j - 1
			} else {
				b.WriteByte(s[i])
			}
		}
	}
	return b.String()
}
