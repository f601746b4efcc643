package mongodb

import (
	"net/url"
	"strings"
)

const scheme = "mongodb://"

// normalizeURI accepts the host[:port] form used on the command line.
func normalizeURI(uri string) string {
	if strings.HasPrefix(uri, scheme) || strings.HasPrefix(uri, "mongodb+srv://") {
		return uri
	}
	return scheme + uri
}

// redact hides the password of uri for logging.
func redact(uri string) string {
	u, err := url.Parse(normalizeURI(uri))
	if err != nil {
		return "<unparsable uri>"
	}
	if u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
