package session

import (
	"context"
	"strings"
)

// blockPhrases are the lexical signals of an anti-bot challenge page.
// Matched against lower-cased visible text; first hit wins.
var blockPhrases = []string{
	"verify you are human",
	"are you a robot",
	"captcha",
	"access denied",
	"too many requests",
	"unusual activity",
	"pardon our interruption",
	"request blocked",
}

// BlockCheck is the result of a block-page scan.
type BlockCheck struct {
	Blocked bool
	Reason  string // the matched phrase
}

// CheckForBlock scans the page's visible text for block indicators. It
// never fails: if the text cannot be read the page is treated as not
// blocked and the session proceeds.
func (s *Session) CheckForBlock(ctx context.Context) BlockCheck {
	text, err := s.Text(ctx)
	if err != nil {
		s.logger.Debug("session: block check text read failed", "error", err)
		return BlockCheck{}
	}
	return scanForBlock(text)
}

func scanForBlock(text string) BlockCheck {
	lower := strings.ToLower(text)
	for _, phrase := range blockPhrases {
		if strings.Contains(lower, phrase) {
			return BlockCheck{Blocked: true, Reason: phrase}
		}
	}
	return BlockCheck{}
}
