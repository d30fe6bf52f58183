// Package issue derives quality findings for mirrored elements: stale or
// malformed verification dates, misspelled payment tags, missing icons.
package issue

import (
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

// Canonical codes, ordered by severity.
const (
	CodeDateFormat    = "date_format"
	CodeMisspelledTag = "misspelled_tag"
	CodeMissingIcon   = "missing_icon"
	CodeNotVerified   = "not_verified"
	CodeOutOfDate     = "out_of_date"
	CodeOutOfDateSoon = "out_of_date_soon"
)

// Severity per code. Higher is worse.
var Severity = map[string]int64{
	CodeDateFormat:    600,
	CodeMisspelledTag: 500,
	CodeMissingIcon:   400,
	CodeNotVerified:   300,
	CodeOutOfDate:     200,
	CodeOutOfDateSoon: 100,
}

// dateTagNames are the upstream tags whose values must be YYYY-MM-DD when
// present. source:date is excluded: it predates the convention and free-form
// values there are tolerated.
var dateTagNames = []string{
	"survey:date",
	"check_date",
	"check_date:currency:XBT",
}

// misspelledTagNames are recurring typos of payment:lightning tags seen in
// the wild.
var misspelledTagNames = []string{
	"payment:lighting",
	"payment:lightning_contacless",
	"payment:lighting_contactless",
}

// Issue is one finding for one element.
type Issue struct {
	Code     string
	Severity int64
}

// Issues computes the full finding set for an element at the given instant.
func Issues(e *model.Element, now time.Time) []Issue {
	var out []Issue
	add := func(code string) {
		out = append(out, Issue{Code: code, Severity: Severity[code]})
	}

	for _, name := range dateTagNames {
		v := e.OsmTag(name)
		if v == "" && !e.HasOsmTag(name) {
			continue
		}
		if _, err := model.ParseDate(v); err != nil {
			add(CodeDateFormat)
			break
		}
	}

	for _, name := range misspelledTagNames {
		if e.HasOsmTag(name) {
			add(CodeMisspelledTag)
			break
		}
	}

	if icon := e.Tags.GetString("icon:android"); icon == "" || icon == "question_mark" {
		add(CodeMissingIcon)
	}

	verified := e.VerificationDate()
	switch {
	case verified == nil:
		add(CodeNotVerified)
	default:
		days := int(now.Sub(*verified).Hours() / 24)
		switch {
		case days > 365:
			add(CodeOutOfDate)
		case days >= 275 && days <= 364:
			add(CodeOutOfDateSoon)
		}
	}

	return out
}
