package mongodb

import (
	"fmt"
	"net/url"
	"strings"

	mongodbopts "github.com/kart-io/newsflow/pkg/options/mongodb"
)

// BuildURI builds a MongoDB URI from options.
// If URI is already set in options, it returns that.
// Otherwise, it constructs a URI from host, port, username, password, etc.
func BuildURI(opts *mongodbopts.Options) string {
	if opts.URI != "" {
		return opts.URI
	}

	var uri strings.Builder

	uri.WriteString("mongodb://")

	if opts.Username != "" {
		uri.WriteString(url.QueryEscape(opts.Username))
		if opts.Password != "" {
			uri.WriteString(":")
			uri.WriteString(url.QueryEscape(opts.Password))
		}
		uri.WriteString("@")
	}

	uri.WriteString(opts.Host)
	if opts.Port != 0 {
		uri.WriteString(fmt.Sprintf(":%d", opts.Port))
	}

	uri.WriteString("/")
	if opts.Database != "" {
		uri.WriteString(opts.Database)
	}

	params := url.Values{}
	if opts.AuthSource != "" && opts.AuthSource != "admin" {
		params.Add("authSource", opts.AuthSource)
	}
	if opts.ReplicaSet != "" {
		params.Add("replicaSet", opts.ReplicaSet)
	}
	if opts.Direct {
		params.Add("directConnection", "true")
	}
	if len(params) > 0 {
		uri.WriteString("?")
		uri.WriteString(params.Encode())
	}

	return uri.String()
}
