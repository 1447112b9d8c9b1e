package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2024, time.March, 7, 23, 30, 0, 0, time.UTC)

	cases := []struct {
		template string
		seq      int64
		want     string
	}{
		{DefaultInvoiceNumberTemplate, 42, "INV-202403-000042"},
		{"{YY}{MM}{DD}/{SEQ}", 7, "240307/7"},
		{"PR-{SEQ3}", 12345, "PR-12345"},
	}
	for _, tc := range cases {
		got, err := FormatInvoiceNumber(tc.template, issued, tc.seq)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, got)
	}
}

func TestFormatInvoiceNumberRejectsBadInput(t *testing.T) {
	issued := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)

	_, err := FormatInvoiceNumber("", issued, 1)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{SEQ}", issued, 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{CUSTOMER}-{SEQ}", issued, 1)
	assert.Error(t, err)
}
