package train

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/john/chatsentiment/internal/labeling"
)

// ReadExamples reads classifier training data from CSV with a header row
// containing "message" and "sentiment_label". Rows with an empty message are
// dropped.
func ReadExamples(r io.Reader) ([]Example, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	msgCol, labelCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "message":
			msgCol = i
		case "sentiment_label":
			labelCol = i
		}
	}
	if msgCol < 0 || labelCol < 0 {
		return nil, errors.New("csv must have message and sentiment_label columns")
	}

	var out []Example
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if msgCol >= len(rec) || labelCol >= len(rec) {
			continue
		}
		if rec[msgCol] == "" {
			continue
		}
		out = append(out, Example{Text: rec[msgCol], Label: rec[labelCol]})
	}
	return out, nil
}

// ReadExamplesFile opens path and calls ReadExamples.
func ReadExamplesFile(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open training data: %w", err)
	}
	defer f.Close()
	return ReadExamples(f)
}

// WriteLabeledCSV writes regressor training rows as text,sentiment.
func WriteLabeledCSV(w io.Writer, rows []labeling.LabeledText) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"text", "sentiment"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Text, fmt.Sprintf("%g", r.Sentiment)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
