package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "****"},
		{"CHQ-00012345", "CHQ-****2345"},
		{"TRX_987654321", "TRX_****4321"},
		{"4111111111111111", "****1111"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskSecret(tc.in), tc.in)
	}
}

func TestMaskFieldsOnlyTouchesNamedKeys(t *testing.T) {
	ref := "BT-20240001"
	out := MaskFields(map[string]any{
		"reference": &ref,
		"amount":    "150.00",
		"":          "dropped",
	}, "Reference")

	assert.Equal(t, "BT-****0001", out["reference"])
	assert.Equal(t, "150.00", out["amount"])
	assert.NotContains(t, out, "")
	assert.Nil(t, MaskFields(nil, "reference"))
}
