package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPatterns 返回固定的问候/求助词表。顺序即匹配顺序。
func DefaultPatterns() []string {
	return []string{
		`^\s*(hi|hello|hey|hiya|howdy|greetings|yo|hola|bonjour|salut|hallo|ciao)\b[\s!.,?]*(there|carbeez|bot)?[\s!.,?]*$`,
		`^\s*good\s+(morning|afternoon|evening|day)\b[\s!.,?]*(carbeez)?[\s!.,?]*$`,
		`^\s*(what'?s\s+up|sup|how\s+are\s+you(\s+doing)?|how'?s\s+it\s+going)\b[\s!.,?]*$`,
		`^\s*(help|help\s+me|i\s+need\s+help|can\s+you\s+help(\s+me)?)[\s!.,?]*$`,
		`^\s*(who|what)\s+are\s+you[\s!.,?]*$`,
		`^\s*what\s+can\s+you\s+(do|help\s+(me\s+)?with)[\s!.,?]*$`,
		`^\s*how\s+(can|do)\s+(you\s+help(\s+me)?|i\s+use\s+you)[\s!.,?]*$`,
		`^\s*(please\s+)?introduce\s+yourself[\s!.,?]*$`,
		`^\s*(hello|hi|hey)\b[\s!.,?]*(can|could|would)\s+you\s+(help|assist)(\s+me)?(\s+with\s+(carbon|ghg|esg)\s+(accounting|reporting))?[\s!.,?]*$`,
	}
}

// Classifier 判断用户输入是否属于寒暄/求助类的闲聊。
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier compiles patterns case-insensitively, preserving order.
func NewClassifier(patterns ...string) (*Classifier, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile small-talk pattern %d: %w", i, err)
		}
		compiled = append(compiled, re)
	}
	return &Classifier{patterns: compiled}, nil
}

// MustDefault returns a classifier built from DefaultPatterns.
func MustDefault() *Classifier {
	c, err := NewClassifier(DefaultPatterns()...)
	if err != nil {
		panic(err)
	}
	return c
}

// IsSmallTalk reports whether any pattern matches; the first match wins.
func (c *Classifier) IsSmallTalk(text string) bool {
	_, ok := c.Match(text)
	return ok
}

// Match returns the index of the first matching pattern.
func (c *Classifier) Match(text string) (int, bool) {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return -1, false
	}
	for i, re := range c.patterns {
		if re.MatchString(normalized) {
			return i, true
		}
	}
	return -1, false
}
