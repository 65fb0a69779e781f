package adapters

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// resolveLink resolves href against base, returning href unchanged if
// either fails to parse or href is already absolute.
func resolveLink(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// extractAnchors walks an html.Token stream and returns every href attribute
// on an <a> tag found in doc, resolved against base.
func extractAnchors(base string, doc []byte) ([]string, error) {
	z := html.NewTokenizer(strings.NewReader(string(doc)))
	var hrefs []string
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return hrefs, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "href" && attr.Val != "" {
					hrefs = append(hrefs, resolveLink(base, attr.Val))
				}
			}
		}
	}
}

// stripTags renders doc's text nodes only, dropping markup, so HTML
// search-result and listing pages can be run through the same parser
// registry that handles plain-text and PDF-derived documents.
func stripTags(doc []byte) string {
	z := html.NewTokenizer(strings.NewReader(string(doc)))
	var sb strings.Builder
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
			sb.WriteByte(' ')
		}
	}
}

// formFields walks doc's token stream and returns every <input
// name="..." value="..."> pair found, keyed by name. Used to lift
// ASP.NET's __VIEWSTATE/__EVENTVALIDATION hidden fields out of a
// rendered search form before re-POSTing it.
func formFields(doc []byte) (map[string]string, error) {
	z := html.NewTokenizer(strings.NewReader(string(doc)))
	fields := make(map[string]string)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return fields, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}
			var name, value string
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				}
			}
			if name != "" {
				fields[name] = value
			}
		}
	}
}
