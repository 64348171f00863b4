package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type OutputFormat struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success(w io.Writer, message string, args ...any) {
	fmt.Fprintf(w, "wfcc: "+message+"\n", args...)
}

func Error(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %s\n", err)
}

func Warning(w io.Writer, message string, args ...any) {
	fmt.Fprintf(w, "warning: "+message+"\n", args...)
}

func JSON(w io.Writer, data any) error {
	return json.NewEncoder(w).Encode(OutputFormat{
		Status: "success",
		Data:   data,
	})
}

func JSONError(w io.Writer, err error) error {
	return json.NewEncoder(w).Encode(OutputFormat{
		Status:  "error",
		Message: err.Error(),
	})
}

// Table prints rows as left-aligned columns. The first row is usually the
// header.
func Table(w io.Writer, data [][]string) {
	if len(data) == 0 {
		return
	}

	widths := make([]int, len(data[0]))
	for _, row := range data {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for _, row := range data {
		cells := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			if i == len(widths)-1 {
				cells[i] = cell
			} else {
				cells[i] = fmt.Sprintf("%-*s", widths[i], cell)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "  "))
	}
}
