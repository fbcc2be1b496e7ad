package rank

import "strings"

// DefaultLocale is used when a project's country is absent or unrecognized.
const DefaultLocale = "us"

// countryLocales maps project country names to Google locale codes.
var countryLocales = map[string]string{
	"australia":      "au",
	"brazil":         "br",
	"canada":         "ca",
	"france":         "fr",
	"germany":        "de",
	"india":          "in",
	"italy":          "it",
	"japan":          "jp",
	"netherlands":    "nl",
	"spain":          "es",
	"turkey":         "tr",
	"uk":             "uk",
	"united kingdom": "uk",
	"united states":  "us",
	"usa":            "us",
}

// CountryLocale resolves a project country to its Google locale code,
// falling back to DefaultLocale.
func CountryLocale(country string) string {
	if code, ok := countryLocales[strings.ToLower(strings.TrimSpace(country))]; ok {
		return code
	}
	return DefaultLocale
}
