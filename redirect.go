package mapi

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RedirectTarget is a parsed "mapi:" redirect URI (spec §4.7, §6).
//
// OverrideUser/OverridePassword carry the raw "user="/"password=" query
// values verbatim, if present; parseRedirectURI has no access to the
// caller's Config, so it cannot tell whether they actually differ from
// the credentials already in use. That comparison — and the resulting
// "warn if differs" per spec §4.7 — is the caller's job (followRedirects).
type RedirectTarget struct {
	Scheme           string // "monetdb" or "merovingian"
	Host             string
	Port             int
	Database         string
	Language         string
	OverrideUser     string
	OverridePassword string
	Warnings         []string
}

const mapiURIPrefix = "mapi:"

// parseRedirectURI parses a single redirect line's URI per spec §4.7:
// "mapi:monetdb://host[:port][/database][?query]" or
// "mapi:merovingian://proxy[?query]".
func parseRedirectURI(raw string) (*RedirectTarget, error) {
	if !strings.HasPrefix(raw, mapiURIPrefix) {
		return nil, &ParseError{Msg: "redirect URI missing mapi: scheme prefix", Offset: 0}
	}
	inner := raw[len(mapiURIPrefix):]

	u, err := url.Parse(inner)
	if err != nil {
		return nil, errors.Wrap(err, "mapi: malformed redirect URI")
	}

	switch u.Scheme {
	case "monetdb", "merovingian":
	default:
		return nil, &ParseError{Msg: "unrecognized redirect scheme " + u.Scheme, Offset: len(mapiURIPrefix)}
	}

	target := &RedirectTarget{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrap(err, "mapi: malformed redirect port")
		}
		target.Port = port
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		target.Database = path
	}

	q := u.Query()
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch key {
		case "database":
			target.Database = v
		case "language":
			target.Language = v
		case "user":
			target.OverrideUser = v
		case "password":
			target.OverridePassword = v
		default:
			target.Warnings = append(target.Warnings, "redirect supplied unrecognized parameter "+key+"="+v+"; ignored")
		}
	}
	return target, nil
}
