package process

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// IDLength is the number of characters kept from the encoded digest.
// URLs whose digests share this prefix are stored as one record; collisions
// are neither detected nor resolved.
const IDLength = 20

var ErrNotAbsolute = errors.New("url is not absolute")

var indexFilenames = []string{"index.html", "index.php", "index.jsp", "index.cgi"}

const canonicalFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveEmptyPortSeparator |
	purell.FlagRemoveDotSegments

// Normalize returns the identity form of a URL, fragment included.
func Normalize(rawURL string) (string, error) {
	return NormalizeWith(rawURL, false, false)
}

// NormalizeWith strips a trailing index filename and canonicalizes scheme,
// host and port. ignoreHash drops the fragment, addTrailingSlash forces the
// path to end with "/".
func NormalizeWith(rawURL string, ignoreHash, addTrailingSlash bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", ErrNotAbsolute
	}

	if u.Path == "" {
		u.Path = "/"
	}
	for _, name := range indexFilenames {
		if strings.HasSuffix(u.Path, "/"+name) {
			u.Path = strings.TrimSuffix(u.Path, name)
			u.RawPath = ""
			break
		}
	}

	flags := canonicalFlags
	if ignoreHash {
		flags |= purell.FlagRemoveFragment
	}
	if addTrailingSlash {
		flags |= purell.FlagAddTrailingSlash
	}

	return purell.NormalizeURL(u, flags), nil
}

// Identify derives the stable record id of a URL: the base64url encoded
// SHA-256 of its normalized form, truncated to IDLength characters.
func Identify(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:IDLength], nil
}

// Origin returns scheme://host of an absolute URL, lowercased.
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// WithoutFragment returns rawURL with its fragment removed.
func WithoutFragment(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
