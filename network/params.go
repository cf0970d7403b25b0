package network

import (
	"fmt"
	"net/url"
)

// AddParams returns rawURL with params merged into its query string. Later maps win
// over earlier ones; parameters already present in rawURL are overwritten.
func AddParams(rawURL string, params ...map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	query := u.Query()
	for _, p := range params {
		for k, v := range p {
			query.Set(k, v)
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
