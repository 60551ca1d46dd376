// Package breach looks up password exposure counts against a k-anonymity
// range endpoint. Only the first five hex characters of the password's SHA-1
// digest ever leave the process; the full digest is matched locally against
// the suffix list the service returns.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const prefixLength = 5

// ErrUnavailable indicates the range endpoint could not be reached or
// returned an unexpected response. Callers decide whether to fail open.
var ErrUnavailable = errors.New("breach check unavailable")

// Result reports whether a password appears in the breach corpus and how
// many times it has been observed.
type Result struct {
	Breached bool
	Count    int
}

// Config tunes the checker. Threshold is the minimum exposure count that
// counts as breached; zero means any exposure.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Threshold int
}

// Checker queries a range endpoint compatible with the Have I Been Pwned
// /range API.
type Checker struct {
	config Config
	client *http.Client
}

// NewChecker builds a Checker. A nil client gets a dedicated http.Client
// with the configured timeout.
func NewChecker(cfg Config, client *http.Client) (*Checker, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("breach checker requires a base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2500 * time.Millisecond
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Checker{config: cfg, client: client}, nil
}

// Check reports whether password's exposure count meets the configured
// threshold. Network and protocol failures return ErrUnavailable; the
// password is never judged breached on error.
func (c *Checker) Check(ctx context.Context, password string) (Result, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := digest[:prefixLength]
	suffix := digest[prefixLength:]

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/range/" + prefix
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	count, err := matchSuffix(resp, suffix)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Breached: count >= c.config.Threshold,
		Count:    count,
	}, nil
}

func matchSuffix(resp *http.Response, suffix string) (int, error) {
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, countStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(candidate, suffix) {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return 0, fmt.Errorf("%w: malformed count %q", ErrUnavailable, countStr)
		}
		return count, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return 0, nil
}
