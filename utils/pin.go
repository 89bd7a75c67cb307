package utils

import "github.com/sethvargo/go-password/password"

// GeneratePIN creates a random admin PIN for configs that start without one.
// Letters and digits only so the PIN survives copy-paste into headers.
func GeneratePIN() (string, error) {
	return password.Generate(12, 4, 0, false, false)
}
