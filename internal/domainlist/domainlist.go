package domainlist

import (
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Checker reports senders whose domain is on the ignore list
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates an ignore list checker. Entries match the domain and its subdomains.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	c := &Checker{
		domains: make(map[string]struct{}, len(domains)),
		logger:  logger,
	}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d != "" {
			c.domains[d] = struct{}{}
		}
	}
	if len(c.domains) > 0 && logger != nil {
		logger.Info("Initialized sender ignore list", zap.Int("domains", len(c.domains)))
	}
	return c
}

// IsIgnored implements core.SenderFilter
func (c *Checker) IsIgnored(sender string) bool {
	if len(c.domains) == 0 {
		return false
	}
	domain := senderDomain(sender)
	if domain == "" {
		return false
	}

	for d := domain; d != ""; {
		if _, ok := c.domains[d]; ok {
			if c.logger != nil {
				c.logger.Debug("Sender domain is ignored",
					zap.String("domain", domain),
					zap.String("sender", sender))
			}
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return false
}

func senderDomain(sender string) string {
	addr := sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], ">"))
}
