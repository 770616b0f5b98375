package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
)

var severitySymbols = map[findings.Severity]string{
	findings.Pass:         "✅",
	findings.Fail:         "❌",
	findings.Warning:      "⚠️ ",
	findings.Info:         "ℹ️ ",
	findings.Inconclusive: "❔",
	findings.Unknown:      "❔",
}

// printTextResult writes a human-readable report for one host.
func printTextResult(w io.Writer, r assess.ResultMessage) {
	fmt.Fprintf(w, "\nMail TLS Assessment\n")
	fmt.Fprintf(w, "===================\n\n")

	fmt.Fprintf(w, "Host: %s\n", r.Host)
	fmt.Fprintf(w, "Mode: %s\n", r.Mode)
	fmt.Fprintf(w, "Assessed: %s\n", r.AssessedAt.Format(time.RFC3339))

	if r.Inconclusive {
		fmt.Fprintf(w, "\n❔ TLS verdict: inconclusive, the server could not be judged\n")
	} else {
		printFindings(w, "🔐 TLS Findings", r.TLSFindings)
	}
	printFindings(w, "📜 Certificate Findings", r.CertificateFindings)

	if len(r.Outcomes) > 0 {
		fmt.Fprintf(w, "\n🤝 Handshakes:\n")
		for _, o := range r.Outcomes {
			symbol := "✅"
			if !o.Succeeded() {
				symbol = "❌"
			}
			fmt.Fprintf(w, "  %s %s\n", symbol, o)
		}
	}

	if len(r.Records) > 0 {
		fmt.Fprintf(w, "\n🔑 Certificates:\n")
		for _, rec := range r.Records {
			fmt.Fprintf(w, "  %s\n", rec.Subject)
			fmt.Fprintf(w, "     Issuer: %s\n", rec.Issuer)
			fmt.Fprintf(w, "     Valid: %s to %s\n", rec.NotBefore.Format("2006-01-02"), rec.NotAfter.Format("2006-01-02"))
			fmt.Fprintf(w, "     Key: %s %d bits, %s\n", rec.KeyType, rec.KeySize, rec.SignatureAlgorithm)
			fmt.Fprintf(w, "     SHA-1: %s\n", rec.Thumbprint)
		}
	}

	counts := r.Counts()
	fmt.Fprintf(w, "\n📊 Summary: %d pass, %d fail, %d warning, %d info\n",
		counts[findings.Pass], counts[findings.Fail], counts[findings.Warning], counts[findings.Info])
}

func printFindings(w io.Writer, title string, list []findings.Finding) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, f := range list {
		fmt.Fprintf(w, "  %s %s: %s\n", severitySymbols[f.Severity], f.ID, f.Text)
	}
}

// printBatchSummary prints a summary of a batch run.
func printBatchSummary(w io.Writer, results []assess.ResultMessage, failed int) {
	inconclusive, failing := 0, 0
	for _, r := range results {
		if r.Inconclusive {
			inconclusive++
		}
		if r.Counts()[findings.Fail] > 0 {
			failing++
		}
	}
	fmt.Fprintf(w, "\n📊 Batch Summary\n")
	fmt.Fprintf(w, "================\n")
	fmt.Fprintf(w, "Hosts: %d\n", len(results)+failed)
	fmt.Fprintf(w, "✅ Assessed: %d\n", len(results))
	fmt.Fprintf(w, "❌ With failures: %d\n", failing)
	fmt.Fprintf(w, "❔ Inconclusive: %d\n", inconclusive)
	if failed > 0 {
		fmt.Fprintf(w, "⛔ Not assessed: %d\n", failed)
	}
}

// parseBatchFile reads one host per CSV row. A first row starting with
// "host" is a header; extra columns are ignored.
func parseBatchFile(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}

	start := 0
	if len(records[0]) > 0 && strings.EqualFold(strings.TrimSpace(records[0][0]), "host") {
		start = 1
	}

	var hosts []string
	for _, record := range records[start:] {
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" || strings.HasPrefix(record[0], "#") {
			continue
		}
		hosts = append(hosts, strings.TrimSpace(record[0]))
	}
	return hosts, nil
}
