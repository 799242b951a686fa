package config

import (
	"fmt"
	"strings"
	"unicode"
)

// FilePlaceholder marks where playback.command receives the clip path.
const FilePlaceholder = "{file}"

// parseArgv splits a playback or clipboard command line into argv using
// shell-like quoting: single and double quotes group words, a backslash
// escapes the next rune. A blank or #-prefixed line yields no argv.
func parseArgv(input string) ([]string, error) {
	line := strings.TrimSpace(input)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	var (
		argv   []string
		word   strings.Builder
		inWord bool
		quote  rune
		escape bool
	)

	for _, r := range line {
		if escape {
			word.WriteRune(r)
			escape = false
			continue
		}
		switch {
		case r == '\\':
			escape, inWord = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escape:
		return nil, fmt.Errorf("command %q ends with a dangling backslash (unterminated escape)", line)
	case quote != 0:
		return nil, fmt.Errorf("command %q has an unterminated quote %c", line, quote)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}

// mustParseArgv is for built-in defaults only.
func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}

func hasPlaceholder(argv []string) bool {
	for _, arg := range argv {
		if strings.Contains(arg, FilePlaceholder) {
			return true
		}
	}
	return false
}
