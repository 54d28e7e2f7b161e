// File: internal/desktop/tesseract.go
package desktop

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/detection"
)

// tsvWordLevel is the level column value tesseract uses for single words.
const tsvWordLevel = 5

// Tesseract recognizes text by piping a PNG into the tesseract CLI and
// parsing its TSV output.
type Tesseract struct {
	runner  Runner
	command string
	logger  *zap.Logger
}

var _ detection.TextRecognizer = (*Tesseract)(nil)

// NewTesseract creates a recognizer. An empty command means "tesseract".
func NewTesseract(runner Runner, command string, logger *zap.Logger) *Tesseract {
	if runner == nil {
		runner = ExecRunner{}
	}
	if command == "" {
		command = "tesseract"
	}
	return &Tesseract{runner: runner, command: command, logger: logger.Named("ocr")}
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image, language string) ([]detection.Word, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image for ocr: %w", err)
	}
	args := []string{"stdin", "stdout"}
	if language != "" {
		args = append(args, "-l", language)
	}
	args = append(args, "tsv")

	out, err := t.runner.Run(ctx, Command{Name: t.command, Args: args, Stdin: buf.Bytes()})
	if err != nil {
		return nil, fmt.Errorf("run ocr: %w", err)
	}
	words, err := parseTSV(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	t.logger.Debug("OCR pass complete", zap.Int("words", len(words)), zap.String("language", language))
	return words, nil
}

// parseTSV converts tesseract TSV rows into words. Rows other than words and
// words with a negative confidence are skipped. Boxes are relative to the
// recognized image.
func parseTSV(r io.Reader) ([]detection.Word, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ocr header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"level", "block_num", "par_num", "line_num", "left", "top", "width", "height", "conf", "text"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("ocr output missing column %q", name)
		}
	}

	var (
		words []detection.Word
		lines = make(map[[3]int]int)
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ocr row: %w", err)
		}
		if len(rec) <= col["text"] {
			continue
		}
		ints, ok := atoiAll(rec, col, "level", "block_num", "par_num", "line_num", "left", "top", "width", "height")
		if !ok || ints[0] != tsvWordLevel {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(rec[col["conf"]]), 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(rec[col["text"]])
		if text == "" {
			continue
		}

		key := [3]int{ints[1], ints[2], ints[3]}
		line, seen := lines[key]
		if !seen {
			line = len(lines)
			lines[key] = line
		}
		words = append(words, detection.Word{
			Text:       text,
			Box:        detection.Region{Left: ints[4], Top: ints[5], Width: ints[6], Height: ints[7]},
			Confidence: conf / 100,
			Line:       line,
		})
	}
	return words, nil
}

func atoiAll(rec []string, col map[string]int, names ...string) ([]int, bool) {
	out := make([]int, len(names))
	for i, name := range names {
		n, err := strconv.Atoi(strings.TrimSpace(rec[col[name]]))
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
