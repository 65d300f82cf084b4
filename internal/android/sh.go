// Package android has helpers for interacting with the android shell.
package android

import "strings"

// safeShellChars never need quoting under mksh.
const safeShellChars = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"@%+=:,./-_"

// QuoteShell quotes the provided arguments for /system/bin/sh.
func QuoteShell(args ...string) string {
	var b strings.Builder
	for i, a := range args {
		if i != 0 {
			b.WriteByte(' ')
		}
		quote(a, &b)
	}
	return b.String()
}

func quote(word string, b *strings.Builder) {
	if word == "" {
		b.WriteString("''")
		return
	}
	safe := true
	for _, c := range word {
		if !strings.ContainsRune(safeShellChars, c) {
			safe = false
			break
		}
	}
	if safe {
		b.WriteString(word)
		return
	}
	// single-quote the word, closing and reopening around embedded quotes
	b.WriteByte('\'')
	for i := 0; i < len(word); i++ {
		if word[i] == '\'' {
			b.WriteString(`'\''`)
			continue
		}
		b.WriteByte(word[i])
	}
	b.WriteByte('\'')
}
