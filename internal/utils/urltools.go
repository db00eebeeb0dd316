package utils

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

// URLTools wraps a parsed URL with the normalization rules the engine uses
// everywhere a page URL becomes part of test identity (baseline metadata,
// discovered suites).
type URLTools struct {
	URL *url.URL
}

func NewURLTools(raw string) (*URLTools, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse url %s: %w", raw, err)
	}

	urlTools := &URLTools{
		URL: u,
	}
	urlTools.normalize()

	return urlTools, nil
}

func (u *URLTools) normalize() {
	u.URL.Fragment = ""
	u.URL.Scheme = strings.ToLower(u.URL.Scheme)
	u.URL.Host = strings.ToLower(u.URL.Host)

	if (u.URL.Scheme == "http" && strings.HasSuffix(u.URL.Host, ":80")) ||
		(u.URL.Scheme == "https" && strings.HasSuffix(u.URL.Host, ":443")) {
		u.URL.Host, _, _ = strings.Cut(u.URL.Host, ":")
	}

	u.URL.Path = strings.TrimRight(u.URL.Path, "/")
}

func (u *URLTools) DomainIsSame(target *URLTools) bool {
	return u.URL.Hostname() == target.URL.Hostname()
}

// ResolveFullUrlString resolves targetURL against u.URL and returns a full
// absolute URL.
func (u *URLTools) ResolveFullUrlString(targetURL string) (string, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("couldn't parse url %s: %w", targetURL, err)
	}

	resolved := &URLTools{URL: u.URL.ResolveReference(parsed)}
	resolved.normalize()
	return resolved.URL.String(), nil
}

// Canonicalize produces the stable string form of a URL: punycoded lowercase
// host, default ports stripped, credentials dropped, cleaned path.
func Canonicalize(raw string) (string, error) {
	tools, err := NewURLTools(raw)
	if err != nil {
		return "", err
	}
	u := tools.URL

	// Lowercase host and convert IDN -> punycode
	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}

	// Preserve non-default port only
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") || port == "" {
		u.Host = host
	} else {
		u.Host = net.JoinHostPort(host, port)
	}

	// Drop userinfo (credentials)
	u.User = nil

	if u.Path != "" {
		cleanPath := path.Clean(u.Path)
		if cleanPath == "." {
			cleanPath = ""
		}
		u.Path = cleanPath
	}

	return u.String(), nil
}
