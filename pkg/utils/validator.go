package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	walletAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	controlCharsRegex  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// MaxTaskBudget is the largest budget a single task may post, in dollars
const MaxTaskBudget = 100000.0

// IsValidWalletAddress reports whether address is a 0x-prefixed EVM address
func IsValidWalletAddress(address string) bool {
	return walletAddressRegex.MatchString(address)
}

// ValidateWalletAddress validates an EVM payout address
func ValidateWalletAddress(address string) error {
	if !IsValidWalletAddress(address) {
		return fmt.Errorf("invalid wallet address: %q", address)
	}
	return nil
}

// ValidateAmount validates a posted task budget
func ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive: %.2f", amount)
	}
	if amount > MaxTaskBudget {
		return fmt.Errorf("amount exceeds maximum limit: %.2f", amount)
	}
	return nil
}

// ValidateEvidenceURL accepts absolute http(s) URLs only
func ValidateEvidenceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid evidence url: %q", raw)
	}
	return nil
}

// SanitizeString strips control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlCharsRegex.ReplaceAllString(s, ""))
}
