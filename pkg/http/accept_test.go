package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateContentType(t *testing.T) {
	for _, tc := range []struct {
		name   string
		accept []string
		offers []string
		want   string
	}{
		{"no accept header", nil, []string{"text/plain", "application/json"}, "text/plain"},
		{"nothing acceptable", []string{"application/xml;q=1.0,text/html;q=0.9", "image/png"}, []string{"text/plain"}, ""},
		{"equal quality", []string{"application/json,text/plain,text/html"}, []string{"text/plain", "application/json"}, "text/plain"},
		{"quality beats preference", []string{"application/json;q=0.5,text/plain;q=1.0"}, []string{"application/json", "text/plain"}, "text/plain"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for _, a := range tc.accept {
				h.Add("Accept", a)
			}
			assert.Equal(t, tc.want, negotiateContentType(&http.Request{Header: h}, tc.offers))
		})
	}
}
