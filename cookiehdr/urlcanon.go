// Package cookiehdr implements the header codec (C3): parsing Set-Cookie,
// serializing Cookie headers, and validating a cookie's domain against the
// request/document URL that introduced it.
package cookiehdr

import (
	"net/url"

	whatwg "github.com/nlnwa/whatwg-url/url"
)

// Canonicalizer turns a raw URL string into a canonical *url.URL, adapted
// from the teacher's parser/whatwg.go: the WHATWG URL algorithm handles
// IDNA folding, percent-encoding and scheme-relative quirks that
// net/url.Parse alone does not, then the result is re-parsed through
// net/url so the rest of the engine keeps working with the stdlib type.
type Canonicalizer struct {
	parser whatwg.Parser
}

// NewCanonicalizer returns a Canonicalizer configured the same way the
// teacher configures its WHATWG parser.
func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{parser: whatwg.NewParser(whatwg.WithPercentEncodeSinglePercentSign())}
}

// Parse canonicalizes rawURL.
func (c *Canonicalizer) Parse(rawURL string) (*url.URL, error) {
	wurl, err := c.parser.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return url.Parse(wurl.Href(false))
}
