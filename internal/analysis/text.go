package analysis

import (
	"fmt"
	"io"
	"strings"
)

var rule = strings.Repeat("=", 60)

// WriteText renders report as a plain-text summary.
func WriteText(w io.Writer, report Report) error {
	var b strings.Builder

	exportDate := report.ExportDate
	if exportDate == "" {
		exportDate = "unknown"
	}
	fmt.Fprintf(&b, "Export Date: %s\n", exportDate)
	fmt.Fprintf(&b, "Total Sessions: %d\n", report.Sessions)
	fmt.Fprintf(&b, "Total Calibration Entries: %d\n", report.Entries)

	b.WriteString("\nPlatform breakdown:\n")
	for _, p := range report.Platforms {
		fmt.Fprintf(&b, "  %-8s %d\n", p.Name+":", p.Posts)
	}

	for _, p := range report.Platforms {
		if p.Posts == 0 {
			continue
		}
		label := strings.ToUpper(p.Name)
		writeDistribution(&b, label+" - Heuristic Scores", p.Heuristic)
		writeDistribution(&b, label+" - API Scores", p.API)
		writeComparison(&b, label+" - Heuristic vs API Comparison", p.Comparison)
	}

	var mixes []SessionBuckets
	for _, mix := range report.SessionMixes {
		if mix.Total > 0 {
			mixes = append(mixes, mix)
		}
	}
	if len(mixes) > 0 {
		fmt.Fprintf(&b, "\n%s\nSESSION DATA - Bucket Distribution\n%s\n", rule, rule)
		for _, mix := range mixes {
			fmt.Fprintf(&b, "\n%s (%d impressions):\n", mix.Name, mix.Total)
			for _, bucket := range []string{"low", "medium", "high", "unknown"} {
				count, ok := mix.Counts[bucket]
				if !ok {
					continue
				}
				fmt.Fprintf(&b, "  %s: %d (%.1f%%)\n", bucket, count, pct(count, mix.Total))
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeDistribution(b *strings.Builder, label string, d *Distribution) {
	if d == nil {
		fmt.Fprintf(b, "\n%s: No data\n", label)
		return
	}

	fmt.Fprintf(b, "\n%s\n%s\n%s\n", rule, label, rule)
	fmt.Fprintf(b, "Total posts: %d\n", d.N)
	b.WriteString("\nBasic Stats:\n")
	fmt.Fprintf(b, "  Min: %g, Max: %g\n", d.Min, d.Max)
	fmt.Fprintf(b, "  Mean: %.1f, Median: %.1f\n", d.Mean, d.Median)

	b.WriteString("\nPercentiles:\n")
	for _, p := range Percentiles {
		name := fmt.Sprintf("%dth", p)
		if p == 50 {
			name += " (median)"
		}
		fmt.Fprintf(b, "  %s: %g\n", name, d.Percentiles[p])
	}

	b.WriteString("\nCurrent Bucket Distribution (low<40, med 40-69, high>=70):\n")
	fmt.Fprintf(b, "  Low:    %4d (%.1f%%)\n", d.Buckets.Low, pct(d.Buckets.Low, d.N))
	fmt.Fprintf(b, "  Medium: %4d (%.1f%%)\n", d.Buckets.Medium, pct(d.Buckets.Medium, d.N))
	fmt.Fprintf(b, "  High:   %4d (%.1f%%)\n", d.Buckets.High, pct(d.Buckets.High, d.N))

	b.WriteString("\nScore Histogram:\n")
	for _, bin := range d.Histogram {
		fmt.Fprintf(b, "  %3d-%3d: %s %d\n", bin.Start, bin.Start+9, strings.Repeat("█", bin.Bar), bin.Count)
	}

	moderate, strict := d.Suggested()
	b.WriteString("\nSuggested Thresholds (based on percentiles):\n")
	fmt.Fprintf(b, "  Blur the top quarter: threshold >= %g (75th percentile)\n", moderate)
	fmt.Fprintf(b, "  Blur the top tenth:   threshold >= %g (90th percentile)\n", strict)
}

func writeComparison(b *strings.Builder, label string, c *Comparison) {
	if c == nil {
		return
	}
	fmt.Fprintf(b, "\n%s\n%s\n%s\n", rule, label, rule)
	fmt.Fprintf(b, "Paired samples: %d\n", c.Pairs)
	fmt.Fprintf(b, "Mean difference (API - Heuristic): %+.1f\n", c.MeanDiff)
	fmt.Fprintf(b, "API scores higher by >10: %d (%.1f%%)\n", c.Over, pct(c.Over, c.Pairs))
	fmt.Fprintf(b, "API scores lower by >10:  %d (%.1f%%)\n", c.Under, pct(c.Under, c.Pairs))
	fmt.Fprintf(b, "Within ±10:               %d (%.1f%%)\n", c.Close, pct(c.Close, c.Pairs))
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
