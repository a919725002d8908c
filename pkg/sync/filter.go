package sync

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/mirrorsync/pkg/proto"
)

// ignoredNames are never synced, regardless of the configured rules.
var ignoredNames = map[string]struct{}{
	".DS_Store": {},
}

// ShouldFilter returns whether path matches any of rules. Backslashes in path
// are treated as forward slashes. Rules that aren't valid regular expressions
// are logged and skipped.
func ShouldFilter(path string, rules []string) bool {
	return NewFilter(rules).Match(path)
}

// Filter is a compiled set of path rules.
type Filter struct {
	rules []*regexp.Regexp
}

// NewFilter compiles rules, skipping the ones that don't compile.
func NewFilter(rules []string) Filter {
	var f Filter
	for _, rule := range rules {
		re, err := regexp.Compile(rule)
		if err != nil {
			log.WithError(err).WithField("rule", rule).Warn("Ignoring invalid path filter rule")
			continue
		}
		f.rules = append(f.rules, re)
	}
	return f
}

// Match returns whether path matches any rule in the filter.
func (f Filter) Match(path string) bool {
	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, re := range f.rules {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// IsIgnored returns whether the final element of relPath is one that's never
// synced.
func IsIgnored(relPath string) bool {
	_, ok := ignoredNames[path.Base(strings.ReplaceAll(relPath, `\`, "/"))]
	return ok
}

// Config is the filtering configuration of one side of a session.
type Config struct {
	EnableFileSizeLimit bool
	MaxFileSize         int64
	PathRegex           []string
}

// Merge returns a copy of c with the fields present in update applied. The
// path rules are replaced wholesale.
func (c Config) Merge(update proto.Configure) Config {
	if update.EnableFileSizeLimit != nil {
		c.EnableFileSizeLimit = *update.EnableFileSizeLimit
	}
	if update.MaxFileSize != nil {
		c.MaxFileSize = *update.MaxFileSize
	}
	if update.PathRegex != nil {
		c.PathRegex = append([]string{}, update.PathRegex...)
	}
	return c
}

// Configure returns the message that sends c to the peer.
func (c Config) Configure() proto.Configure {
	enabled := c.EnableFileSizeLimit
	maxSize := c.MaxFileSize
	rules := c.PathRegex
	if rules == nil {
		rules = []string{}
	}
	return proto.Configure{
		EnableFileSizeLimit: &enabled,
		MaxFileSize:         &maxSize,
		PathRegex:           rules,
	}
}

// Policy decides which paths and sizes an endpoint accepts. It combines the
// endpoint's own configuration with the configuration sent by the peer: a
// path is rejected if either side's rules match it, and the size limit is
// the smaller of the enabled limits.
type Policy struct {
	lock   sync.Mutex
	local  Config
	remote Config
	filter Filter
}

// NewPolicy creates a policy from the endpoint's own configuration.
func NewPolicy(local Config) *Policy {
	p := &Policy{local: local}
	p.filter = NewFilter(p.rules())
	return p
}

// SetLocal replaces this endpoint's own configuration.
func (p *Policy) SetLocal(local Config) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.local = local
	p.filter = NewFilter(p.rules())
}

// SetRemote replaces the peer's configuration.
func (p *Policy) SetRemote(remote Config) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.remote = remote
	p.filter = NewFilter(p.rules())
}

// Remote returns the peer's configuration.
func (p *Policy) Remote() Config {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.remote
}

func (p *Policy) rules() []string {
	return lo.Uniq(append(append([]string{}, p.local.PathRegex...), p.remote.PathRegex...))
}

// SizeLimit returns the effective size limit, and whether any limit applies.
func (p *Policy) SizeLimit() (int64, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	var limit int64
	var enabled bool
	for _, cfg := range []Config{p.local, p.remote} {
		if !cfg.EnableFileSizeLimit || cfg.MaxFileSize <= 0 {
			continue
		}
		if !enabled || cfg.MaxFileSize < limit {
			limit = cfg.MaxFileSize
		}
		enabled = true
	}
	return limit, enabled
}

// CheckPath returns whether relPath may be synced, and if not, why.
func (p *Policy) CheckPath(relPath string) (reason string, ok bool) {
	if IsIgnored(relPath) {
		return "Path is always ignored", false
	}

	p.lock.Lock()
	filter := p.filter
	p.lock.Unlock()

	if filter.Match(relPath) {
		return "Path matches a filter rule", false
	}
	return "", true
}

// CheckSize returns whether a file of the given size may be synced, and if
// not, why.
func (p *Policy) CheckSize(size int64) (reason string, ok bool) {
	limit, enabled := p.SizeLimit()
	if !enabled || size <= limit {
		return "", true
	}
	return fmt.Sprintf("File size %s exceeds the limit of %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))), false
}
