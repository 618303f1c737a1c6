package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks the content type to respond with, from
// those on offer in order of preference. Higher quality (`q`) in the
// Accept header wins; among equals, the earlier preference wins. No
// Accept header at all gets the first preference, and an Accept header
// naming nothing on offer gets "".
func negotiateContentType(r *http.Request, offers []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offers[0]
	}

	var acceptable []header.AcceptSpec
	for _, spec := range specs {
		if rank(offers, spec.Value) < len(offers) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		if acceptable[i].Q == acceptable[j].Q {
			return rank(offers, acceptable[i].Value) < rank(offers, acceptable[j].Value)
		}
		return acceptable[i].Q > acceptable[j].Q
	})
	return acceptable[0].Value
}

// rank is the position of the content type among the offers, or
// len(offers) if it isn't there, so it sorts after those that are.
func rank(offers []string, contentType string) int {
	for i, o := range offers {
		if o == contentType {
			return i
		}
	}
	return len(offers)
}
