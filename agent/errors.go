package agent

import (
	"errors"
	"fmt"
)

// ErrUnknownPlatform reports a platform name with no profile.
var ErrUnknownPlatform = errors.New("agent: unknown platform")

// ErrNoCredential reports that no stored login session exists for the
// platform. The caller must capture one before scraping.
var ErrNoCredential = errors.New("agent: no stored session for platform")

// BlockedError reports that the platform served an anti-bot page
// mid-session. The admission controller counts these toward cooldown.
type BlockedError struct {
	Platform string
	Phrase   string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("agent: %s blocked the session (%q)", e.Platform, e.Phrase)
}

// IsBlocked reports whether err carries a BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
