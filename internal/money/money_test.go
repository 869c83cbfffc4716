package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "60", want: "60.00"},
		{in: " 40.5 ", want: "40.50"},
		{in: "0.005", want: "0.01"},
		{in: "-0.005", want: "-0.01"},
		{in: "12.344", want: "12.34"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1,000", wantErr: true},
		{in: "true", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			require.ErrorIs(t, err, ErrInvalidAmount, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, Format(got), tc.in)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "9999999999.99", want: "9999999999.99"},
		{in: "-9999999999.99", want: "-9999999999.99"},
		{in: "1e3", want: "1000.00"},
		{in: "1e10000000"},
		{in: "1E-20"},
		{in: "10000000000"},
		{in: "123456789012345.67"},
		{in: "0.0000000000001"},
		{in: "1111111111111111111111111111111111111111"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.want == "" {
			require.ErrorIs(t, err, ErrOutOfRange, tc.in)
			require.ErrorIs(t, err, ErrInvalidAmount, tc.in)
			require.Less(t, len(err.Error()), 100, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, Format(got), tc.in)
		require.True(t, InRange(got), tc.in)
	}
}

func TestSumDoesNotDrift(t *testing.T) {
	tenth := MustParse("0.10")
	total := Zero
	for i := 0; i < 1000; i++ {
		total = Sum(total, tenth)
	}
	require.Equal(t, "100.00", Format(total))
}

func TestRawAcceptsStringAndNumber(t *testing.T) {
	var body struct {
		A Raw `json:"a"`
		B Raw `json:"b"`
		C Raw `json:"c"`
		D Raw `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"50.01","b":12.5,"c":null,"d":false}`), &body))

	a, err := body.A.Decimal()
	require.NoError(t, err)
	require.Equal(t, "50.01", Format(a))

	b, err := body.B.Decimal()
	require.NoError(t, err)
	require.Equal(t, "12.50", Format(b))

	require.False(t, body.C.IsSet())
	_, err = body.D.Decimal()
	require.ErrorIs(t, err, ErrInvalidAmount)
}
