package octra

import "regexp"

// Octra addresses are "oct" followed by 44 base58 characters.
var addressPattern = regexp.MustCompile(`^oct[1-9A-HJ-NP-Za-km-z]{44}$`)

func IsValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}
