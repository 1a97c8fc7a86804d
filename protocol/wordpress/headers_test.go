package wordpress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const pluginFile = `<?php
/**
 * Plugin Name: Hello World
 * Plugin URI: https://example.com/hello
 * Description: Says hello.
 * Author: Acme Corp
 * Author URI: https://example.com
 * Version: 1.2.3
 * Requires at least: 6.0
 * Tested up to: 6.5
 * Requires PHP: 8.1
 */
`

const themeFile = `/*
Theme Name: Dark Mode
Theme URI: https://example.com/dark
Author: Acme Corp
Version: 2.0.0
*/
body { color: #fff; }
`

func TestExtractHeadersPlugin(t *testing.T) {
	headers := ExtractHeaders(pluginFile)

	require.Equal(t, "Hello World", headers["Plugin Name"])
	require.Equal(t, "https://example.com/hello", headers["Plugin URI"])
	require.Equal(t, "Says hello.", headers["Description"])
	require.Equal(t, "Acme Corp", headers["Author"])
	require.Equal(t, "https://example.com", headers["Author URI"])
	require.Equal(t, "1.2.3", headers["Version"])
	require.Equal(t, "6.0", headers["Requires at least"])
	require.Equal(t, "6.5", headers["Tested up to"])
	require.Equal(t, "8.1", headers["Requires PHP"])
}

func TestExtractHeadersTheme(t *testing.T) {
	headers := ExtractHeaders(themeFile)

	require.Equal(t, "Dark Mode", headers["Theme Name"])
	require.Equal(t, "https://example.com/dark", headers["Theme URI"])
	require.Equal(t, "2.0.0", headers["Version"])
}

func TestExtractHeadersAbsentKeysOmitted(t *testing.T) {
	headers := ExtractHeaders(themeFile)

	_, ok := headers["Requires PHP"]
	require.False(t, ok)
	_, ok = headers["Plugin Name"]
	require.False(t, ok)
}

func TestExtractHeadersFirstMatchWins(t *testing.T) {
	text := "/*\nVersion: 1.0.0\nVersion: 9.9.9\n*/"
	headers := ExtractHeaders(text)
	require.Equal(t, "1.0.0", headers["Version"])
}

func TestExtractHeadersTrailingCommentTrimmed(t *testing.T) {
	text := "/* Version: 3.1.4 */"
	headers := ExtractHeaders(text)
	require.Equal(t, "3.1.4", headers["Version"])
}

func TestExtractHeadersScanLimit(t *testing.T) {
	text := strings.Repeat("x", headerScanLimit) + "\nVersion: 1.0.0\n"
	headers := ExtractHeaders(text)
	_, ok := headers["Version"]
	require.False(t, ok)
}

func TestExtractHeadersEmptyInput(t *testing.T) {
	require.Empty(t, ExtractHeaders(""))
}
