package geoserver

import (
	"net/url"
	"regexp"
)

var resourcePattern = regexp.MustCompile(`(?i)/workspaces/([^/]+)/(?:datastores|stores|coveragestores)/([^/]+)`)

// ResourceRef is the workspace and store a layer's resource lives in.
type ResourceRef struct {
	Workspace string
	Store     string
}

// ParseResource extracts the workspace and store from a resource href such
// as ".../workspaces/{ws}/datastores/{store}/featuretypes/x.json".
// ok is false when href does not match or its segments do not decode.
func ParseResource(href string) (ref ResourceRef, ok bool) {
	m := resourcePattern.FindStringSubmatch(href)
	if m == nil {
		return ResourceRef{}, false
	}
	ws, err := url.PathUnescape(m[1])
	if err != nil {
		return ResourceRef{}, false
	}
	store, err := url.PathUnescape(m[2])
	if err != nil {
		return ResourceRef{}, false
	}
	return ResourceRef{Workspace: ws, Store: store}, true
}
