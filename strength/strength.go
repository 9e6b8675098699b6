// Package strength scores candidate master passwords with a fixed additive
// rubric. The score drives a meter in the UI and the acceptance gate for
// master-password changes.
package strength

import (
	"fmt"
	"strings"
)

// Level buckets a score for display.
type Level string

const (
	VeryWeak Level = "Very Weak"
	Weak     Level = "Weak"
	Fair     Level = "Fair"
	Good     Level = "Good"
	Strong   Level = "Strong"
)

const (
	// MinLength is the hard floor for master passwords.
	MinLength = 8
	// acceptScore is the rubric score a master password must reach.
	acceptScore = 60

	specialSet = "!@#$%^&*()_+-=[]{};:'\",.<>?/\\|`~"
)

var sequences = []string{"0123456789", "abcdefghijklmnopqrstuvwxyz"}

// Result is one scored password.
type Result struct {
	Score    int
	Level    Level
	Color    string
	Feedback []string
}

// Score rates a password from 0 to 100. Length milestones at 8/12/16 add
// 10 each, each character class present adds 15, a character repeated three
// or more times in a row subtracts 10, and an ascending digit or letter run
// of three subtracts 5. Feedback lists what is missing, in rubric order.
func Score(password string) Result {
	if password == "" {
		return Result{Score: 0, Level: VeryWeak, Color: colorFor(0), Feedback: []string{"Password is empty"}}
	}

	score := 0
	var feedback []string

	if len(password) >= MinLength {
		score += 10
	} else {
		feedback = append(feedback, fmt.Sprintf("Password should be at least %d characters (currently %d)", MinLength, len(password)))
	}
	if len(password) >= 12 {
		score += 10
	}
	if len(password) >= 16 {
		score += 10
	}

	classes := []struct {
		present bool
		hint    string
	}{
		{containsRange(password, 'a', 'z'), "Add lowercase letters (a-z)"},
		{containsRange(password, 'A', 'Z'), "Add uppercase letters (A-Z)"},
		{containsRange(password, '0', '9'), "Add numbers (0-9)"},
		{strings.ContainsAny(password, specialSet), "Add special characters (!@#$%^&*)"},
	}
	for _, c := range classes {
		if c.present {
			score += 15
		} else {
			feedback = append(feedback, c.hint)
		}
	}

	if hasTripleRepeat(password) {
		score -= 10
		feedback = append(feedback, "Avoid repeating characters")
	}
	if hasAscendingRun(password) {
		score -= 5
		feedback = append(feedback, "Avoid sequential characters")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Result{Score: score, Level: levelFor(score), Color: colorFor(score), Feedback: feedback}
}

// Acceptable is the gate for new master passwords.
func Acceptable(password string) bool {
	return len(password) >= MinLength && Score(password).Score >= acceptScore
}

func levelFor(score int) Level {
	switch {
	case score < 20:
		return VeryWeak
	case score < 40:
		return Weak
	case score < 60:
		return Fair
	case score < 80:
		return Good
	default:
		return Strong
	}
}

func colorFor(score int) string {
	switch {
	case score < 20:
		return "#ff0000"
	case score < 40:
		return "#ff6600"
	case score < 60:
		return "#ffcc00"
	case score < 80:
		return "#99cc00"
	default:
		return "#00cc00"
	}
}

func containsRange(s string, lo, hi rune) bool {
	for _, r := range s {
		if r >= lo && r <= hi {
			return true
		}
	}
	return false
}

func hasTripleRepeat(s string) bool {
	runes := []rune(s)
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

func hasAscendingRun(s string) bool {
	lower := strings.ToLower(s)
	for _, seq := range sequences {
		for i := 0; i+3 <= len(seq); i++ {
			if strings.Contains(lower, seq[i:i+3]) {
				return true
			}
		}
	}
	return false
}
