package api

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint roots of the resource API, relative to the server base URL.
const (
	ResourcesEndpoint      = "/api/resources"
	PublicShareEndpoint    = "/api/public/share"
	PublicDownloadEndpoint = "/api/public/dl"
	RawEndpoint            = "/api/raw"
	InfoEndpoint           = "/api/info"
	CommandEndpoint        = "/api/command"
	LoginEndpoint          = "/api/login"
	RenewEndpoint          = "/api/renew"
	DefaultTusEndpoint     = "/api/tus"
)

// routePrefixes are UI route prefixes that may precede a logical path when
// paths are copied from browser URLs. They are never part of the API path.
var routePrefixes = []string{"/files", "/share"}

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters. Order is preserved in the
// encoded query string, unlike url.Values.
type Params []Param

// Add returns p with key=value appended.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// AddBool returns p with key=true|false appended.
func (p Params) AddBool(key string, value bool) Params {
	return p.Add(key, fmt.Sprintf("%t", value))
}

// Encode renders the parameters as key=value pairs joined with '&'.
// Keys and values are encoded independently with EncodeComponent.
func (p Params) Encode() string {
	parts := make([]string, 0, len(p))
	for _, kv := range p {
		parts = append(parts, EncodeComponent(kv.Key)+"="+EncodeComponent(kv.Value))
	}

	return strings.Join(parts, "&")
}

// componentUnescaper restores the characters encodeURIComponent leaves alone
// but url.QueryEscape encodes.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeComponent percent-encodes s for use as a single query key or value.
// Spaces become %20 and '/' becomes %2F.
func EncodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// RemovePrefix strips a leading UI route prefix (/files, /share) from p and
// guarantees exactly one leading slash. An empty result means root ("/").
func RemovePrefix(p string) string {
	for _, prefix := range routePrefixes {
		if p == prefix {
			return "/"
		}

		if strings.HasPrefix(p, prefix+"/") {
			p = p[len(prefix):]

			break
		}
	}

	return "/" + strings.TrimLeft(p, "/")
}

// EncodePath percent-encodes each segment of a slash-separated path.
// Segment bytes are kept as given, so a resource is addressed by exactly the
// name the server listed. Separators, including a trailing one, are kept.
func EncodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// ResourcePath builds a request target relative to the server base URL:
// endpoint + encoded logical path + optional query string.
// ResourcePath("/api/resources", "/a b.txt", nil) == "/api/resources/a%20b.txt".
func ResourcePath(endpoint, logicalPath string, params Params) string {
	target := endpoint + EncodePath(RemovePrefix(logicalPath))
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	return target
}

// IsDirPath reports whether p denotes a directory (trailing separator).
func IsDirPath(p string) bool {
	return strings.HasSuffix(p, "/")
}

// Builder produces fully-qualified URLs against a server base URL. Used for
// links handed to other programs (download links, share URLs), where the
// relative form accepted by Client.Do is not enough.
type Builder struct {
	baseURL string
	token   TokenSource
}

// NewBuilder creates a Builder. token may be nil when only unauthenticated
// (public share) URLs are built.
func NewBuilder(baseURL string, token TokenSource) *Builder {
	return &Builder{baseURL: strings.TrimSuffix(baseURL, "/"), token: token}
}

// Absolute returns baseURL + ResourcePath(endpoint, logicalPath, params).
// When withAuth is set the current credential is appended as the "auth"
// query parameter, so the URL works without request headers.
func (b *Builder) Absolute(endpoint, logicalPath string, params Params, withAuth bool) (string, error) {
	if withAuth {
		if b.token == nil {
			return "", fmt.Errorf("api: building authenticated URL: no credential available")
		}

		tok, err := b.token.Token()
		if err != nil {
			return "", fmt.Errorf("api: obtaining token for URL: %w", err)
		}

		params = append(append(Params{}, params...), Param{Key: "auth", Value: tok})
	}

	return b.baseURL + ResourcePath(endpoint, logicalPath, params), nil
}
