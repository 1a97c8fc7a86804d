package wordpress

import (
	"regexp"
	"strings"
)

// knownFileHeaders is the fixed set of header names recognized in the leading
// comment block of a plugin main file or theme stylesheet.
var knownFileHeaders = []string{
	"Plugin Name",
	"Theme Name",
	"Plugin URI",
	"Theme URI",
	"Description",
	"Author",
	"Author URI",
	"Version",
	"Requires at least",
	"Tested up to",
	"Requires PHP",
}

// headerScanLimit bounds how much of the file is scanned. The header comment
// block is always at the top.
const headerScanLimit = 8 * 1024

var headerPatterns = buildHeaderPatterns()

func buildHeaderPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(knownFileHeaders))
	for _, name := range knownFileHeaders {
		patterns[name] = regexp.MustCompile(`(?im)^[ \t/*#@-]*` + regexp.QuoteMeta(name) + `:[ \t]*(.+)$`)
	}
	return patterns
}

// ExtractHeaders scans file text for the known header names. First match per
// header wins; unmatched headers are absent from the result.
func ExtractHeaders(fileText string) map[string]string {
	if len(fileText) > headerScanLimit {
		fileText = fileText[:headerScanLimit]
	}

	headers := make(map[string]string)
	for _, name := range knownFileHeaders {
		m := headerPatterns[name].FindStringSubmatch(fileText)
		if m == nil {
			continue
		}
		value := strings.TrimRight(m[1], " \t*/")
		if value != "" {
			headers[name] = value
		}
	}
	return headers
}
