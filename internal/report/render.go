package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// WriteSingle prints t as an aligned text table.
func WriteSingle(w io.Writer, t SingleTable) error {
	if _, err := fmt.Fprintf(w, "Single perturbation: %s\n", t.Column); err != nil {
		return err
	}
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintln(w, "  (no feasible scenarios)")
		return err
	}
	header := fmt.Sprintf("  %-14s %5s", "Level", "N")
	for _, s := range t.Series {
		header += fmt.Sprintf("  %-26s", s.Name()+" rate/mean/var")
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(header, " ")); err != nil {
		return err
	}
	for _, r := range t.Rows {
		line := fmt.Sprintf("  %-14s %5d", r.Level, r.Scenarios)
		for _, st := range r.Stats {
			line += "  " + formatStat(st)
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

// WriteMulti prints t as an aligned text table.
func WriteMulti(w io.Writer, t MultiTable) error {
	if _, err := fmt.Fprintln(w, "Multiple perturbation by severity score"); err != nil {
		return err
	}
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintln(w, "  (no feasible scenarios)")
		return err
	}
	header := fmt.Sprintf("  %-6s %5s", "Score", "N")
	for _, s := range t.Series {
		header += fmt.Sprintf("  %-17s", s.Name()+" rate/mean")
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(header, " ")); err != nil {
		return err
	}
	for _, r := range t.Rows {
		line := fmt.Sprintf("  %-6d %5d", r.Score, r.Scenarios)
		for _, st := range r.Stats {
			line += fmt.Sprintf("  %6.1f%% %9s", st.Rate, formatFloat(st.Mean, 4))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

func formatStat(st Stat) string {
	return fmt.Sprintf("%6.1f%% %9s %9s", st.Rate, formatFloat(st.Mean, 4), formatFloat(st.Variance, 4))
}

func formatFloat(f float64, prec int) string {
	if math.IsNaN(f) {
		return "-"
	}
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// WriteSingleCSV writes t with one Success_Rate, Average_Margin and
// Variance_Margin column per series. Undefined values are empty cells.
func WriteSingleCSV(w io.Writer, t SingleTable) error {
	cw := csv.NewWriter(w)
	header := []string{"Perturbation", "Delta", "Severity", "Scenarios"}
	for _, s := range t.Series {
		header = append(header, s.Name()+"_Success_Rate", s.Name()+"_Average_Margin", s.Name()+"_Variance_Margin")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		row := []string{r.Level, csvFloat(r.Delta), strconv.Itoa(r.Severity), strconv.Itoa(r.Scenarios)}
		for _, st := range r.Stats {
			row = append(row, csvFloat(st.Rate), csvFloat(st.Mean), csvFloat(st.Variance))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMultiCSV writes t with one Success_Rate and Average_Margin column per
// series.
func WriteMultiCSV(w io.Writer, t MultiTable) error {
	cw := csv.NewWriter(w)
	header := []string{"perturbation_score", "Scenarios"}
	for _, s := range t.Series {
		header = append(header, s.Name()+"_Success_Rate", s.Name()+"_Average_Margin")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		row := []string{strconv.Itoa(r.Score), strconv.Itoa(r.Scenarios)}
		for _, st := range r.Stats {
			row = append(row, csvFloat(st.Rate), csvFloat(st.Mean))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvFloat(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}
