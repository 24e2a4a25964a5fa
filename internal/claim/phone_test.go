package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "03012345678", want: "03012345678", ok: true},
		{in: "923012345678", want: "03012345678", ok: true},
		{in: "+92-301-2345678", want: "03012345678", ok: true},
		{in: "0301 2345678", want: "03012345678", ok: true},
		{in: "3012345678", ok: false},
		{in: "030123456789", ok: false},
		{in: "9230123456", ok: false},
		{in: "hello", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			got, ok := NormalizePhone(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParsePhones(t *testing.T) {
	keys, invalid := ParsePhones("03001234567 923007654321,03001234567; abc\n03110000000")

	assert.Equal(t, []string{"03001234567", "03007654321", "03110000000"}, keys)
	assert.Equal(t, []string{"abc"}, invalid)

	keys, invalid = ParsePhones("   ")
	assert.Empty(t, keys)
	assert.Empty(t, invalid)
}
