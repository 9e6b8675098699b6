package cli

import (
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// ReadPassword reads a line with terminal echo disabled.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return string(pw), err
}

// ReadPasswordMasked reads a line echoing an asterisk per rune.
func ReadPasswordMasked(prompt string) string {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		// Not a terminal; fall back to plain disabled-echo input.
		pw, _ := ReadPassword("")
		return pw
	}
	defer term.Restore(fd, state)

	var input []rune
	for {
		var buf [1]byte
		if _, err := os.Stdin.Read(buf[:]); err != nil {
			fmt.Println()
			return string(input)
		}
		c := buf[0]

		switch c {
		case 13, 10: // Enter
			fmt.Println()
			return string(input)
		case 3: // Ctrl+C
			fmt.Println()
			return ""
		case 127, 8: // Backspace
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Print("\b \b")
			}
		default:
			r, _ := utf8.DecodeRune(buf[:])
			input = append(input, r)
			fmt.Print("*")
		}
	}
}
