package rank

import "testing"

func TestCountryLocale(t *testing.T) {
	t.Parallel()

	cases := []struct {
		country string
		want    string
	}{
		{country: "Germany", want: "de"},
		{country: "germany", want: "de"},
		{country: "United States", want: "us"},
		{country: "usa", want: "us"},
		{country: "United Kingdom", want: "uk"},
		{country: "India", want: "in"},
		{country: " Turkey ", want: "tr"},
		{country: "Bogustan", want: "us"},
		{country: "", want: "us"},
	}
	for _, tc := range cases {
		if got := CountryLocale(tc.country); got != tc.want {
			t.Errorf("CountryLocale(%q) = %q, want %q", tc.country, got, tc.want)
		}
	}
}
