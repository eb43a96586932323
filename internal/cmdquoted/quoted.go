// Package cmdquoted parses the list valued settings of the configuration,
// such as package prefixes, whether they come from the command line, the
// environment or a .env file. Elements are separated by white space or
// commas and may be quoted with single or double quotes.
package cmdquoted

import (
	"flag"
	"fmt"
	"strings"
	"unicode"
)

func isSeparator(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ','
}

// Split splits s into a list of fields. There is no unescaping or other
// processing within quoted fields, and quoted fields may be empty.
func Split(s string) ([]string, error) {
	var f []string
	for len(s) > 0 {
		for len(s) > 0 && isSeparator(s[0]) {
			s = s[1:]
		}
		if len(s) == 0 {
			break
		}
		if s[0] == '"' || s[0] == '\'' {
			quote := s[0]
			s = s[1:]
			i := strings.IndexByte(s, quote)
			if i < 0 {
				return nil, fmt.Errorf("unterminated %c string", quote)
			}
			f = append(f, s[:i])
			s = s[i+1:]
			continue
		}
		i := 0
		for i < len(s) && !isSeparator(s[i]) {
			i++
		}
		f = append(f, s[:i])
		s = s[i:]
	}
	return f, nil
}

// Join joins a list into a string that Split turns back into the same list.
// Elements are quoted only when they contain separators or quotes.
func Join(list []string) (string, error) {
	var buf []byte
	for i, elem := range list {
		if i > 0 {
			buf = append(buf, ' ')
		}
		var sawSep, sawSingleQuote, sawDoubleQuote bool
		for _, c := range elem {
			switch {
			case c > unicode.MaxASCII:
				continue
			case isSeparator(byte(c)):
				sawSep = true
			case c == '\'':
				sawSingleQuote = true
			case c == '"':
				sawDoubleQuote = true
			}
		}
		switch {
		case elem != "" && !sawSep && !sawSingleQuote && !sawDoubleQuote:
			buf = append(buf, elem...)
		case !sawSingleQuote:
			buf = append(buf, '\'')
			buf = append(buf, elem...)
			buf = append(buf, '\'')
		case !sawDoubleQuote:
			buf = append(buf, '"')
			buf = append(buf, elem...)
			buf = append(buf, '"')
		default:
			return "", fmt.Errorf("element %q contains both single and double quotes and cannot be quoted", elem)
		}
	}
	return string(buf), nil
}

// Flag is a list flag parsed with Split. Each Set replaces the list.
type Flag []string

var _ flag.Value = (*Flag)(nil)

// Set implements flag.Value.
func (f *Flag) Set(v string) error {
	fs, err := Split(v)
	if err != nil {
		return err
	}
	*f = fs[:len(fs):len(fs)]
	return nil
}

// String implements flag.Value.
func (f *Flag) String() string {
	if f == nil {
		return ""
	}
	s, err := Join(*f)
	if err != nil {
		return strings.Join(*f, " ")
	}
	return s
}
