package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	contentTypesPart    = "[Content_Types].xml"
	docxDefaultMainPart = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPart      = "content.xml"
)

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip package: %w", err)
	}
	return zr, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("part %s not found", name)
}

// xmlText collects character data found inside elements whose local name is
// in blocks. Each outermost matching element becomes one space-separated piece.
func xmlText(data []byte, blocks ...string) (string, error) {
	want := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		want[b] = true
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		pieces []string
		cur    strings.Builder
		depth  int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if want[t.Name.Local] || depth > 0 {
				depth++
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				if s := strings.TrimSpace(cur.String()); s != "" {
					pieces = append(pieces, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if depth > 0 {
				cur.Write(t)
			}
		}
	}
	return strings.Join(pieces, " "), nil
}

// docxMainPart resolves the main document part from [Content_Types].xml,
// falling back to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	data, err := readPart(zr, contentTypesPart)
	if err != nil {
		return docxDefaultMainPart
	}
	var ct contentTypes
	if err := xml.Unmarshal(data, &ct); err != nil {
		return docxDefaultMainPart
	}
	for _, o := range ct.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return docxDefaultMainPart
}

func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("DOCX: %w", err)
	}
	data, err := readPart(zr, docxMainPart(zr))
	if err != nil {
		return "", fmt.Errorf("DOCX: %w", err)
	}
	text, err := xmlText(data, "t")
	if err != nil {
		return "", fmt.Errorf("DOCX: %w", err)
	}
	return text, nil
}

// extractPPTX reads ppt/slides/slideN.xml in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("PPTX: %w", err)
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		var n int
		if _, err := fmt.Sscanf(f.Name, "ppt/slides/slide%d.xml", &n); err == nil && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, slide{n, f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readPart(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("PPTX: %w", err)
		}
		text, err := xmlText(data, "t")
		if err != nil {
			return "", fmt.Errorf("PPTX %s: %w", s.name, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// extractODF handles OpenDocument text, presentation and spreadsheet packages,
// which all keep their body in content.xml.
func extractODF(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("ODF: %w", err)
	}
	data, err := readPart(zr, odfContentPart)
	if err != nil {
		return "", fmt.Errorf("ODF: %w", err)
	}
	text, err := xmlText(data, "p", "h")
	if err != nil {
		return "", fmt.Errorf("ODF: %w", err)
	}
	return text, nil
}
