// Package format renders invoice numbers from an operator template.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// DefaultInvoiceNumberTemplate yields numbers like INV-202403-000042.
const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}-{SEQ6}"

// FormatInvoiceNumber expands template for an invoice issued at issuedAt with
// the global sequence seq. Supported tokens: {YYYY} {YY} {MM} {DD} {SEQ}
// and {SEQn} for a sequence zero-padded to n digits.
func FormatInvoiceNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	issuedAt = issuedAt.UTC()
	out := strings.NewReplacer(
		"{YYYY}", issuedAt.Format("2006"),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 || width > 18 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}
	return out, nil
}
