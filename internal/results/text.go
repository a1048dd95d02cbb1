package results

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteJSON writes resp as indented JSON.
func WriteJSON(w io.Writer, resp Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// WriteText writes resp as an aligned table, one detection per line.
func WriteText(w io.Writer, resp Response) error {
	if len(resp.Detections) == 0 {
		_, err := fmt.Fprintln(w, "No detections")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "#\tCLASS\tCONF\tX1\tY1\tX2\tY2"); err != nil {
		return err
	}
	for i, d := range resp.Detections {
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			i+1, d.ClassName, d.Confidence, d.X1, d.Y1, d.X2, d.Y2); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d detection(s)\n", len(resp.Detections))
	return err
}

// Summary counts detections per class name.
func Summary(resp Response) map[string]int {
	counts := make(map[string]int)
	for _, d := range resp.Detections {
		counts[d.ClassName]++
	}
	return counts
}
