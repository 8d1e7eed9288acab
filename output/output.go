// Package output orders and serializes the converted records.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhcgn/msg-to-json/model"
)

// Order selects how records are sorted before writing.
type Order string

const (
	OrderNone Order = "none"
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Format selects the serialization.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderNone, nil
	case OrderNone, OrderAsc, OrderDesc:
		return o, nil
	default:
		return "", fmt.Errorf("invalid sort order %q (want none, asc or desc)", s)
	}
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q (want json or jsonl)", s)
	}
}

// Sort orders records by timestamp. The sort is stable and records without a
// timestamp go last in both directions.
func Sort(records []model.Record, order Order) {
	if order != OrderAsc && order != OrderDesc {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Timestamp, records[j].Timestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case order == OrderDesc:
			return *a > *b
		default:
			return *a < *b
		}
	})
}

// WriteJSON writes records to path. The file is written to a temporary name
// in the same directory and renamed into place, so readers never see a
// partial document.
func WriteJSON(path string, records []model.Record, format Format) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriterSize(tmp, 64*1024)
	if err := Encode(buf, records, format); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// Encode serializes records as an indented JSON array or as JSON Lines. HTML
// characters are not escaped.
func Encode(w io.Writer, records []model.Record, format Format) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if format == FormatJSONL {
		for i := range records {
			if err := enc.Encode(records[i]); err != nil {
				return fmt.Errorf("encode record %d: %w", i, err)
			}
		}
		return nil
	}

	if records == nil {
		records = []model.Record{}
	}
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}
