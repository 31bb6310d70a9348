package source

import (
	"strings"

	"github.com/nhle/inboxpilot/internal/model"
)

// Filter holds user-configured rules that discard messages before any
// model call is spent on them.
type Filter struct {
	// Self is the account's own address. Mail from it is skipped.
	Self string

	IgnoreSenders         []string
	IgnoreSubjectKeywords []string
}

// NewFilter builds a Filter from source configuration.
func NewFilter(cfg model.SourceConfig) Filter {
	return Filter{
		Self:                  strings.ToLower(strings.TrimSpace(cfg.Address)),
		IgnoreSenders:         cfg.IgnoreSenders,
		IgnoreSubjectKeywords: cfg.IgnoreSubjectKeywords,
	}
}

// FromSelf reports whether m was sent by the account itself.
func (f Filter) FromSelf(m *model.Message) bool {
	return f.Self != "" && strings.EqualFold(m.SenderAddress, f.Self)
}

// Ignored reports whether m matches an ignore rule and returns the rule
// that matched.
func (f Filter) Ignored(m *model.Message) (string, bool) {
	from := strings.ToLower(m.SenderAddress + " " + m.SenderName)
	for _, sender := range f.IgnoreSenders {
		sender = strings.ToLower(strings.TrimSpace(sender))
		if sender != "" && strings.Contains(from, sender) {
			return "ignored sender " + sender, true
		}
	}

	subject := strings.ToLower(m.Subject)
	for _, keyword := range f.IgnoreSubjectKeywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(subject, keyword) {
			return "ignored subject keyword " + keyword, true
		}
	}

	return "", false
}
