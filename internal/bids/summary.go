package bids

import (
	"fmt"
	"io"
	"strings"
)

const summaryRule = "============================================================"

// WriteSummary prints a human-readable dataset summary.
func WriteSummary(w io.Writer, m *Metadata) {
	name, kind := m.Name, m.DatasetType
	if name == "" {
		name = "Unknown"
	}
	if kind == "" {
		kind = "Unknown"
	}

	fmt.Fprintf(w, "\n%s\nBIDS DATASET SUMMARY\n%s\n", summaryRule, summaryRule)
	fmt.Fprintf(w, "Dataset Name: %s\n", name)
	fmt.Fprintf(w, "Dataset Type: %s\n", kind)
	fmt.Fprintf(w, "Number of Subjects: %d\n", m.NumSubjects)

	if n := len(m.Subjects); n > 0 {
		shown := m.Subjects
		if n > 5 {
			shown = m.Subjects[:5]
		}
		fmt.Fprintf(w, "Subject IDs: %s", strings.Join(shown, ", "))
		if n > 5 {
			fmt.Fprintf(w, ", ... (+%d more)", n-5)
		}
		fmt.Fprintln(w)
	}
	if len(m.Sessions) > 0 {
		fmt.Fprintf(w, "Sessions: %s\n", strings.Join(m.Sessions, ", "))
	}
	if m.TR != nil {
		fmt.Fprintf(w, "TR (RepetitionTime): %.2f seconds\n", *m.TR)
	} else {
		fmt.Fprintln(w, "TR (RepetitionTime): Not found in metadata")
	}
	fmt.Fprintf(w, "Functional Files: %d\n", m.NumFunctionalFiles)
	fmt.Fprintf(w, "%s\n\n", summaryRule)
}
