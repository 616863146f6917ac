package analysis

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// maxXLSXPart caps the decompressed size of one workbook part.
const maxXLSXPart = 64 << 20

// LoadXLSX reads the header row and up to MaxRows rows of one worksheet.
// Sheet selects a worksheet by name (case-insensitive) or by 1-based
// position; empty means the first sheet.
func LoadXLSX(p string, opt LoadOptions) (*Sample, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	return readXLSX(b, filepath.Base(p), opt)
}

func readXLSX(b []byte, name string, opt LoadOptions) (*Sample, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	wb := workbook{zip: zr}
	sheets := wb.sheets()
	target, err := wb.resolve(sheets, opt.Sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	data, err := wb.part(target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	rows := &cellScanner{dec: xml.NewDecoder(bytes.NewReader(data)), shared: wb.sharedStrings()}

	s := &Sample{Name: name}
	header, ok := rows.next()
	if !ok {
		return s, nil
	}
	s.Columns = make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = arrayKey(i)
		}
		s.Columns[i] = h
	}
	maxRows := boundRows(opt.MaxRows)
	for {
		cells, ok := rows.next()
		if !ok {
			break
		}
		if blank(cells) {
			continue
		}
		if len(s.Records) >= maxRows {
			s.Truncated = true
			break
		}
		rec := make(Record, len(s.Columns))
		for i, c := range s.Columns {
			if i < len(cells) && cells[i] != "" {
				rec[c] = cells[i]
			} else {
				rec[c] = nil
			}
		}
		s.Records = append(s.Records, rec)
	}
	return s, rows.err
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type workbook struct {
	zip *zip.Reader
}

type sheetRef struct {
	Name     string
	Position int
	RelID    string
}

func (w workbook) part(name string) ([]byte, error) {
	for _, f := range w.zip.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxXLSXPart))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// optionalPart returns nil when the part is absent or unreadable.
func (w workbook) optionalPart(name string) []byte {
	b, err := w.part(name)
	if err != nil {
		return nil
	}
	return b
}

func (w workbook) sheets() []sheetRef {
	var out []sheetRef
	eachStart(w.optionalPart("xl/workbook.xml"), func(se xml.StartElement) {
		if se.Name.Local != "sheet" {
			return
		}
		ref := sheetRef{Position: len(out) + 1}
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				ref.Name = a.Value
			case "id":
				ref.RelID = a.Value
			}
		}
		out = append(out, ref)
	})
	return out
}

func (w workbook) relationships() map[string]string {
	out := map[string]string{}
	eachStart(w.optionalPart("xl/_rels/workbook.xml.rels"), func(se xml.StartElement) {
		if se.Name.Local != "Relationship" {
			return
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	})
	return out
}

// resolve maps a sheet selector to a zip entry name.
func (w workbook) resolve(sheets []sheetRef, selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	var pick *sheetRef
	switch {
	case selector == "":
		if len(sheets) > 0 {
			pick = &sheets[0]
		}
	default:
		for i := range sheets {
			if strings.EqualFold(sheets[i].Name, selector) {
				pick = &sheets[i]
				break
			}
		}
		if pick == nil {
			if n, err := strconv.Atoi(selector); err == nil && n >= 1 && n <= len(sheets) {
				pick = &sheets[n-1]
			}
		}
		if pick == nil {
			names := make([]string, len(sheets))
			for i, s := range sheets {
				names[i] = s.Name
			}
			return "", fmt.Errorf("sheet %q not found (available: %s)", selector, strings.Join(names, ", "))
		}
	}
	if pick != nil {
		if target, ok := w.relationships()[pick.RelID]; ok {
			return zipPartPath(target), nil
		}
		return fmt.Sprintf("xl/worksheets/sheet%d.xml", pick.Position), nil
	}
	return "xl/worksheets/sheet1.xml", nil
}

func (w workbook) sharedStrings() []string {
	data := w.optionalPart("xl/sharedStrings.xml")
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []string
	var buf strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
}

func eachStart(data []byte, fn func(xml.StartElement)) {
	if len(data) == 0 {
		return
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		if se, ok := tok.(xml.StartElement); ok {
			fn(se)
		}
	}
}

// cellScanner streams <row> elements of a worksheet as positional cells.
type cellScanner struct {
	dec    *xml.Decoder
	shared []string
	err    error
}

func (s *cellScanner) next() ([]string, bool) {
	var cells []string
	inRow := false
	for {
		tok, err := s.dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("read worksheet: %w", err)
			}
			return nil, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "row":
				inRow = true
				cells = nil
			case inRow && t.Name.Local == "c":
				var ref, kind string
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						kind = a.Value
					}
				}
				col := columnIndex(ref)
				if col < 0 {
					col = len(cells)
				}
				for len(cells) <= col {
					cells = append(cells, "")
				}
				cells[col] = s.cellValue(kind)
			}
		case xml.EndElement:
			if t.Name.Local == "row" && inRow {
				return cells, true
			}
		}
	}
}

// cellValue consumes a <c> element and returns its text. Shared string
// cells are resolved against the workbook table.
func (s *cellScanner) cellValue(kind string) string {
	var raw strings.Builder
	depth := 0
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return raw.String()
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "v" || t.Name.Local == "t" {
				depth++
			}
		case xml.CharData:
			if depth > 0 {
				raw.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				depth--
			case "c":
				v := raw.String()
				if kind == "s" {
					i, err := strconv.Atoi(strings.TrimSpace(v))
					if err != nil || i < 0 || i >= len(s.shared) {
						return ""
					}
					return s.shared[i]
				}
				return v
			}
		}
	}
}

// columnIndex turns a cell reference such as "C12" into a 0-based column,
// or -1 when the reference carries no letters.
func columnIndex(ref string) int {
	idx := 0
	for _, r := range ref {
		switch {
		case r >= 'A' && r <= 'Z':
			idx = idx*26 + int(r-'A'+1)
		case r >= 'a' && r <= 'z':
			idx = idx*26 + int(r-'a'+1)
		default:
			return idx - 1
		}
	}
	return idx - 1
}

// zipPartPath turns a workbook relationship target into a zip entry name.
// Targets may be absolute ("/xl/worksheets/sheet1.xml") or relative to xl/.
func zipPartPath(target string) string {
	target = strings.TrimPrefix(target, "/")
	if strings.HasPrefix(target, "xl/") {
		return path.Clean(target)
	}
	return path.Join("xl", target)
}
