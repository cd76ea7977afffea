package syncer

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Scheme selects which remote locales are mirrored.
type Scheme string

const (
	// SchemeDefault mirrors only the source's default locale.
	SchemeDefault Scheme = "default"
	// SchemeOne mirrors one explicit locale code.
	SchemeOne Scheme = "one"
	// SchemeAll mirrors every published locale.
	SchemeAll Scheme = "all"
)

type Localization struct {
	Scheme Scheme
	Code   string
}

func DefaultLocale() Localization {
	return Localization{Scheme: SchemeDefault}
}

func OneLocale(code string) Localization {
	return Localization{Scheme: SchemeOne, Code: code}
}

func AllLocales() Localization {
	return Localization{Scheme: SchemeAll}
}

// ParseLocalization reads "default", "all" or "one:<code>".
func ParseLocalization(value string) (Localization, error) {
	switch {
	case value == "" || value == string(SchemeDefault):
		return DefaultLocale(), nil
	case value == string(SchemeAll):
		return AllLocales(), nil
	case len(value) > 4 && value[:4] == "one:":
		return OneLocale(value[4:]), nil
	default:
		return Localization{}, fmt.Errorf("invalid localization scheme %q", value)
	}
}

// targets returns the locale codes to write and the fallback locale for missing values.
func (l Localization) targets(locales []models.Locale) (codes []string, fallback string, err error) {
	if len(locales) == 0 {
		return nil, "", fmt.Errorf("%w: source published no locales", ErrUnknownLocale)
	}

	fallback = locales[0].Code
	for _, locale := range locales {
		if locale.IsDefault {
			fallback = locale.Code
			break
		}
	}

	switch l.Scheme {
	case SchemeOne:
		for _, locale := range locales {
			if locale.Code == l.Code {
				return []string{l.Code}, fallback, nil
			}
		}
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownLocale, l.Code)
	case SchemeAll:
		codes = make([]string, 0, len(locales))
		for _, locale := range locales {
			codes = append(codes, locale.Code)
		}
		return codes, fallback, nil
	default:
		return []string{fallback}, fallback, nil
	}
}
