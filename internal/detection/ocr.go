// File: internal/detection/ocr.go
package detection

import (
	"context"
	"image"
	"strings"
)

// Word is a single recognized token.
type Word struct {
	Text string
	// Box is relative to the Min point of the image passed to Recognize.
	Box Region
	// Confidence is normalized to [0,1].
	Confidence float64
	// Line groups words that the recognizer placed on the same text line.
	// Words of one line are reported in reading order.
	Line int
}

// TextRecognizer extracts words from an image. Implementations shell out to
// an OCR engine; the detection package only consumes the word list.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image, language string) ([]Word, error)
}

type ocrLocator struct {
	recognizer TextRecognizer
	language   string
}

func (o *ocrLocator) locate(ctx context.Context, target Target, f *frame) (candidate, error) {
	img := f.within(target.SearchRegion)
	if img == nil {
		return candidate{}, nil
	}
	lang := target.Language
	if lang == "" {
		lang = o.language
	}

	words, err := o.recognizer.Recognize(ctx, img, lang)
	if err != nil {
		return candidate{}, err
	}

	box, conf, ok := matchPhrase(words, target.Text)
	if !ok {
		return candidate{}, nil
	}
	origin := img.Bounds().Min
	box.Left += origin.X
	box.Top += origin.Y
	return candidate{located: true, region: box, confidence: conf}, nil
}

// matchPhrase looks for pattern as a case-insensitive substring of a single
// word or of a run of consecutive words on one line. The first hit in
// reading order wins. Confidence is the weakest word of the run.
func matchPhrase(words []Word, pattern string) (Region, float64, bool) {
	fields := strings.Fields(strings.ToLower(pattern))
	if len(fields) == 0 {
		return Region{}, 0, false
	}
	needle := strings.Join(fields, " ")
	n := len(fields)

	for _, line := range groupLines(words) {
		for i := 0; i+n <= len(line); i++ {
			run := line[i : i+n]
			parts := make([]string, n)
			for j, w := range run {
				parts[j] = strings.ToLower(strings.TrimSpace(w.Text))
			}
			if !strings.Contains(strings.Join(parts, " "), needle) {
				continue
			}
			return unionBox(run), minConfidence(run), true
		}
	}
	return Region{}, 0, false
}

func groupLines(words []Word) [][]Word {
	var (
		lines [][]Word
		index = make(map[int]int)
	)
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		i, ok := index[w.Line]
		if !ok {
			i = len(lines)
			index[w.Line] = i
			lines = append(lines, nil)
		}
		lines[i] = append(lines[i], w)
	}
	return lines
}

func unionBox(run []Word) Region {
	r := run[0].Box.Rect()
	for _, w := range run[1:] {
		r = r.Union(w.Box.Rect())
	}
	return regionFromRect(r)
}

func minConfidence(run []Word) float64 {
	c := run[0].Confidence
	for _, w := range run[1:] {
		if w.Confidence < c {
			c = w.Confidence
		}
	}
	return c
}
