package domain

import "fmt"

// ColorScheme is the resolved appearance of the page and widget.
type ColorScheme string

const (
	// SchemeLight renders the light theme.
	SchemeLight ColorScheme = "light"
	// SchemeDark renders the dark theme.
	SchemeDark ColorScheme = "dark"
)

// ParseColorScheme accepts only the two concrete schemes.
func ParseColorScheme(s string) (ColorScheme, error) {
	switch ColorScheme(s) {
	case SchemeLight, SchemeDark:
		return ColorScheme(s), nil
	default:
		return "", fmt.Errorf("unknown color scheme %q", s)
	}
}

// SchemePreference is what the user asked for; "system" follows the client.
type SchemePreference string

const (
	PreferenceLight  SchemePreference = "light"
	PreferenceDark   SchemePreference = "dark"
	PreferenceSystem SchemePreference = "system"
)

// ParseSchemePreference validates a stored or submitted preference.
func ParseSchemePreference(s string) (SchemePreference, error) {
	switch SchemePreference(s) {
	case PreferenceLight, PreferenceDark, PreferenceSystem:
		return SchemePreference(s), nil
	default:
		return "", fmt.Errorf("unknown color scheme preference %q", s)
	}
}

// Resolve maps the preference to a concrete scheme. An empty preference
// behaves like "system".
func (p SchemePreference) Resolve(systemDark bool) ColorScheme {
	switch p {
	case PreferenceLight:
		return SchemeLight
	case PreferenceDark:
		return SchemeDark
	default:
		if systemDark {
			return SchemeDark
		}
		return SchemeLight
	}
}
