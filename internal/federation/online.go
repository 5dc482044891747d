package federation

import (
	"net/url"
	"regexp"
	"strings"
)

// Environment identifies an ArcGIS Online deployment.
type Environment string

const (
	EnvDev        Environment = "dev"
	EnvQA         Environment = "qa"
	EnvProduction Environment = "production"
	// EnvNone is returned for URLs outside ArcGIS Online.
	EnvNone Environment = ""
)

const onlineDomain = "arcgis.com"

var onlinePortalHosts = map[Environment]string{
	EnvDev:        "devext.arcgis.com",
	EnvQA:         "qaext.arcgis.com",
	EnvProduction: "www.arcgis.com",
}

var serverRootPattern = regexp.MustCompile(`/rest(/admin)?/services(/|#|\?|$)`)

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsOnline reports whether raw points at an ArcGIS Online host.
func IsOnline(raw string) bool {
	host := hostOf(raw)
	return host == onlineDomain || strings.HasSuffix(host, "."+onlineDomain)
}

// OnlineEnvironment returns the ArcGIS Online environment raw belongs to,
// or EnvNone when raw is not an ArcGIS Online URL.
func OnlineEnvironment(raw string) Environment {
	if !IsOnline(raw) {
		return EnvNone
	}
	host := strings.TrimSuffix(hostOf(raw), "."+onlineDomain)
	labels := strings.Split(host, ".")
	label := labels[len(labels)-1]

	switch {
	case strings.HasSuffix(label, "devext"), strings.HasSuffix(label, "dev"):
		return EnvDev
	case strings.HasSuffix(label, "qaext"), strings.HasSuffix(label, "qa"):
		return EnvQA
	default:
		return EnvProduction
	}
}

// NormalizeOnlinePortalURL maps an ArcGIS Online organization portal
// (someorg.maps.arcgis.com) to the environment's canonical portal host.
// Other URLs are returned unchanged.
func NormalizeOnlinePortalURL(portal string) string {
	env := OnlineEnvironment(portal)
	if env == EnvNone {
		return portal
	}
	u, err := url.Parse(strings.TrimSpace(portal))
	if err != nil {
		return portal
	}
	u.Scheme = "https"
	u.Host = onlinePortalHosts[env]
	return u.String()
}

// CanUseOnlineToken reports whether a token issued by an ArcGIS Online portal
// may be sent to target. Tokens never cross environments or leave Online.
func CanUseOnlineToken(portal, target string) bool {
	if !IsOnline(portal) || !IsOnline(target) {
		return false
	}
	return OnlineEnvironment(portal) == OnlineEnvironment(target)
}

func comparableURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, "/sharing/rest")
	return strings.TrimSuffix(s, "/")
}

// IsFederated reports whether a server whose /rest/info advertises
// owningSystemURL is federated with portal. Protocol differences are ignored.
func IsFederated(owningSystemURL, portal string) bool {
	if owningSystemURL == "" {
		return false
	}
	owner := comparableURL(NormalizeOnlinePortalURL(owningSystemURL))
	normalizedPortal := comparableURL(NormalizeOnlinePortalURL(portal))
	return owner == normalizedPortal
}

// ServerRootURL returns the root of the ArcGIS Server or portal raw belongs to,
// cutting at /rest/services or /rest/admin/services. Only the scheme and host
// are lowercased because the path may contain a case-sensitive org id.
func ServerRootURL(raw string) string {
	cleaned := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	root := cleaned
	if loc := serverRootPattern.FindStringIndex(cleaned); loc != nil {
		root = cleaned[:loc[0]]
	}

	var scheme string
	switch {
	case strings.HasPrefix(strings.ToLower(root), "https://"):
		scheme = "https://"
	case strings.HasPrefix(strings.ToLower(root), "http://"):
		scheme = "http://"
	default:
		return root
	}

	rest := root[len(scheme):]
	domain, path, _ := strings.Cut(rest, "/")
	result := scheme + strings.ToLower(domain)
	if path != "" {
		result += "/" + path
	}
	return result
}

// IsSameServer reports whether target is served by portal. Scheme and host
// must match exactly (case-insensitively) and the target path must sit on or
// under the portal path. The query and fragment never take part.
func IsSameServer(portal, target string) bool {
	p, err := url.Parse(strings.TrimSpace(portal))
	if err != nil || p.Host == "" {
		return false
	}
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil || t.Host == "" {
		return false
	}
	if !strings.EqualFold(p.Scheme, t.Scheme) || !strings.EqualFold(p.Host, t.Host) {
		return false
	}
	base := strings.ToLower(strings.TrimSuffix(p.Path, "/"))
	path := strings.ToLower(t.Path)
	return base == "" || path == base || strings.HasPrefix(path, base+"/")
}

// NormalizeTrustedDomains converts a portal's authorizedCrossOriginDomains
// into https:// prefixes. Plain http:// entries are dropped.
func NormalizeTrustedDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" || strings.HasPrefix(strings.ToLower(d), "http://") {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(d), "https://") {
			d = "https://" + d
		}
		out = append(out, d)
	}
	return out
}

// MatchesTrustedDomain reports whether target starts with one of the trusted
// prefixes on a boundary: the prefix must be followed by '/', ':', '?', '#'
// or the end of target.
func MatchesTrustedDomain(trusted []string, target string) bool {
	for _, prefix := range trusted {
		prefix = strings.TrimSuffix(prefix, "/")
		if len(target) < len(prefix) || !strings.EqualFold(target[:len(prefix)], prefix) {
			continue
		}
		if len(target) == len(prefix) || strings.ContainsRune("/:?#", rune(target[len(prefix)])) {
			return true
		}
	}
	return false
}
