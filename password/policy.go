package password

import "unicode"

// Policy is the password strength policy applied at registration, password
// change, and password reset.
type Policy struct {
	MinLength int
}

// PolicyResult reports every rule the candidate password failed, not just
// the first, so callers can surface the full list to the user.
type PolicyResult struct {
	Valid  bool
	Errors []string
}

// DefaultPolicy requires at least 8 characters with uppercase, lowercase,
// digit, and symbol classes all present.
func DefaultPolicy() Policy {
	return Policy{MinLength: 8}
}

// CheckStrength evaluates password against the policy.
func (p Policy) CheckStrength(password string) PolicyResult {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = 8
	}

	var result PolicyResult
	if len([]rune(password)) < minLength {
		result.Errors = append(result.Errors, "password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if !hasUpper {
		result.Errors = append(result.Errors, "password must contain an uppercase letter")
	}
	if !hasLower {
		result.Errors = append(result.Errors, "password must contain a lowercase letter")
	}
	if !hasDigit {
		result.Errors = append(result.Errors, "password must contain a digit")
	}
	if !hasSymbol {
		result.Errors = append(result.Errors, "password must contain a symbol")
	}

	result.Valid = len(result.Errors) == 0
	return result
}
