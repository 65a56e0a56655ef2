package language

import (
	"fmt"
	"strings"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// aliases maps 3-letter and word forms the CLI accepts onto BCP 47 base tags.
var aliases = map[string]string{
	"jpn":        "ja",
	"japanese":   "ja",
	"zho":        "zh",
	"chi":        "zh",
	"chinese":    "zh",
	"kor":        "ko",
	"korean":     "ko",
	"eng":        "en",
	"english":    "en",
	"spa":        "es",
	"spanish":    "es",
	"fra":        "fr",
	"fre":        "fr",
	"french":     "fr",
	"deu":        "de",
	"ger":        "de",
	"german":     "de",
	"por":        "pt",
	"portuguese": "pt",
	"rus":        "ru",
	"russian":    "ru",
}

func parse(code string) (xlang.Tag, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return xlang.Und, fmt.Errorf("language code is empty")
	}
	if alias, ok := aliases[strings.ToLower(code)]; ok {
		code = alias
	}
	tag, err := xlang.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return xlang.Und, fmt.Errorf("language %q: %w", code, err)
	}
	return tag, nil
}

// Canonical returns the BCP 47 form of code ("zh-tw" -> "zh-TW",
// "japanese" -> "ja"). Output file names and cache keys use this form.
func Canonical(code string) (string, error) {
	tag, err := parse(code)
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}

// ToISO2 returns the base language of code as an ISO 639-1 code where one
// exists. Unrecognized input returns an empty string.
func ToISO2(code string) string {
	tag, err := parse(code)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

// Script returns the gate script family for code: "ja", "zh", or "ko", or an
// empty string when the language has no dedicated script check.
func Script(code string) string {
	switch iso := ToISO2(code); iso {
	case "ja", "zh", "ko":
		return iso
	default:
		return ""
	}
}

// DisplayName returns an English name for code, or the upper-cased input
// when the code cannot be parsed.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	tag, err := parse(code)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
