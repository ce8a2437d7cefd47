// Package canon implements deterministic URL canonicalisation: mapping
// any crawlable input URL to one stable string so that equivalent URLs
// converge on a single frontier entry.
package canon

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL is returned for unparseable input or schemes this
// crawler never follows (mailto:, javascript:, tel:, data:, ...).
var ErrInvalidURL = errors.New("canon: invalid or unsupported url")

// trackingParams is the fixed set of query keys stripped during
// canonicalisation, case-insensitively. The set is deliberately wide:
// analytics and click-id noise makes otherwise-identical URLs look
// distinct to the frontier.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "utm_id": {}, "fbclid": {}, "gclid": {}, "gclsrc": {},
	"dclid": {}, "msclkid": {}, "twclid": {}, "ref": {}, "ref_src": {},
	"source": {}, "mc_cid": {}, "mc_eid": {}, "si": {}, "spm": {},
	"_ga": {}, "_gl": {}, "_hsenc": {}, "_hsmi": {}, "hsa_cam": {},
	"hsa_grp": {}, "hsa_mt": {}, "hsa_src": {}, "hsa_ad": {}, "hsa_acc": {},
	"hsa_net": {}, "hsa_ver": {}, "hsa_kw": {}, "hsa_tgt": {}, "hsa_la": {},
	"hsa_ol": {},
}

// unsupportedSchemes are rejected before any further parsing.
var unsupportedSchemes = map[string]struct{}{
	"javascript": {}, "mailto": {}, "tel": {}, "data": {},
	"ftp": {}, "file": {}, "blob": {},
}

// Canonicalise maps input to its canonical form, resolving it against
// base first when base is non-empty. It is pure and idempotent:
// Canonicalise(Canonicalise(u)) == Canonicalise(u).
func Canonicalise(input string, base string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", ErrInvalidURL
	}

	if scheme, _, ok := strings.Cut(raw, ":"); ok {
		if _, bad := unsupportedSchemes[strings.ToLower(scheme)]; bad {
			return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, scheme)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if base != "" && !u.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: bad base: %v", ErrInvalidURL, err)
		}
		u = baseURL.ResolveReference(u)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Scheme = scheme

	host, err := canonicaliseHost(u.Hostname())
	if err != nil {
		return "", err
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	userinfo := ""
	if u.User != nil {
		userinfo = u.User.String() + "@"
	}

	hostport := host
	if port != "" {
		hostport = host + ":" + port
	}
	u.Host = userinfo + hostport

	u.Path = canonicalisePath(u.Path)
	u.RawQuery = canonicaliseQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

func canonicaliseHost(hostname string) (string, error) {
	if hostname == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidURL)
	}
	host := strings.ToLower(strings.TrimRight(hostname, "."))
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Not every hostname is IDNA-valid (e.g. already-ASCII hosts with
		// underscores); fall back to the lowercased form rather than
		// rejecting URLs the Go stdlib itself would happily dial.
		return host, nil
	}
	return ascii, nil
}

func canonicalisePath(path string) string {
	if path == "" {
		return "/"
	}

	// Collapse duplicate slashes.
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	segments := strings.Split(path, "/")
	resolved := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(resolved) > 0 && resolved[len(resolved)-1] != "" {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, seg)
		}
	}

	out := strings.Join(resolved, "/")
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	if out != "/" && strings.HasSuffix(out, "/") {
		out = strings.TrimRight(out, "/")
	}
	if out == "" {
		out = "/"
	}
	return out
}

func canonicaliseQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}

	for key := range values {
		lower := strings.ToLower(key)
		if _, tracked := trackingParams[lower]; tracked {
			delete(values, key)
			continue
		}
		if strings.HasPrefix(lower, "utm_") {
			delete(values, key)
		}
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := values[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// RegistrableDomain returns the eTLD+1 of a canonical URL's host, used
// by the frontier/engine to decide internal vs external scope.
func RegistrableDomain(canonicalURL string) (string, error) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return u.Hostname(), nil
	}
	return domain, nil
}

// SameRegistrableDomain reports whether two canonical URLs share an
// eTLD+1, used when include_subdomains is true.
func SameRegistrableDomain(a, b string) bool {
	da, errA := RegistrableDomain(a)
	db, errB := RegistrableDomain(b)
	if errA != nil || errB != nil {
		return false
	}
	return da == db
}

// SameHost reports whether two canonical URLs share an exact host,
// used when include_subdomains is false.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}
