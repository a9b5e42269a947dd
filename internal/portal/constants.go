package portal

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/errs"
)

// Logical names of the login constants
const (
	ConstClientID = "client_id"
	ConstBaseURL  = "base_url"
	ConstIssuer   = "issuer"
	ConstScope    = "scope"
)

// Constants maps logical constant names to the values found in the portal
type Constants map[string]string

// ConstantsResolver provides the login constants.
type ConstantsResolver interface {
	Resolve(ctx context.Context) (Constants, error)
}

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

// ScriptResolver extracts login constants from the portal's sign-in script.
type ScriptResolver struct {
	client      *Client
	url         string
	identifiers map[string]string
	required    []string
	patterns    map[string]*regexp.Regexp
}

// NewScriptResolver creates a resolver reading scriptURL. identifiers maps
// each logical name to the identifier assigned in the script; required lists
// the names that must be found.
func NewScriptResolver(client *Client, scriptURL string, identifiers map[string]string, required []string) *ScriptResolver {
	patterns := make(map[string]*regexp.Regexp, len(identifiers))
	for key, ident := range identifiers {
		patterns[key] = assignmentPattern(ident)
	}
	return &ScriptResolver{
		client:      client,
		url:         scriptURL,
		identifiers: identifiers,
		required:    required,
		patterns:    patterns,
	}
}

// assignmentPattern matches `ident: "v"`, `ident = 'v'` and `"ident": "v"`.
func assignmentPattern(ident string) *regexp.Regexp {
	q := regexp.QuoteMeta(ident)
	return regexp.MustCompile(`(?:^|[^A-Za-z0-9_$.])["']?` + q + `["']?\s*[:=]\s*(?:"([^"]*)"|'([^']*)')`)
}

// Resolve fetches the script and extracts the constants.
func (r *ScriptResolver) Resolve(ctx context.Context) (Constants, error) {
	const op = "portal.constants"

	resp, err := r.client.Get(ctx, op, r.url, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	return r.Extract(resp.String())
}

// Extract pulls the constants out of script source.
func (r *ScriptResolver) Extract(script string) (Constants, error) {
	script = blockComment.ReplaceAllString(script, "")

	found := make(Constants, len(r.patterns))
	for key, pattern := range r.patterns {
		m := pattern.FindStringSubmatch(script)
		if m == nil {
			continue
		}
		if m[1] != "" {
			found[key] = m[1]
		} else {
			found[key] = m[2]
		}
	}

	var missing []string
	for _, key := range r.required {
		if found[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errs.Newf(errs.KindAuth, "portal.constants", "login constants not found: %s", strings.Join(missing, ", "))
	}

	return found, nil
}

// CachedResolver remembers resolved constants for a while so every login does
// not refetch the script.
type CachedResolver struct {
	next   ConstantsResolver
	key    string
	cache  *expirable.LRU[string, Constants]
	logger zerolog.Logger
}

// NewCachedResolver wraps next with a cache entry living for ttl.
func NewCachedResolver(next ConstantsResolver, key string, ttl time.Duration, logger zerolog.Logger) *CachedResolver {
	return &CachedResolver{
		next:   next,
		key:    key,
		cache:  expirable.NewLRU[string, Constants](1, nil, ttl),
		logger: logger.With().Str("component", "constants-cache").Logger(),
	}
}

// Resolve returns the cached constants or resolves them.
func (c *CachedResolver) Resolve(ctx context.Context) (Constants, error) {
	if constants, ok := c.cache.Get(c.key); ok {
		c.logger.Debug().Msg("Using cached login constants")
		return constants, nil
	}

	constants, err := c.next.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(c.key, constants)
	return constants, nil
}

// Invalidate drops the cached constants.
func (c *CachedResolver) Invalidate() {
	c.cache.Remove(c.key)
}
