package middleware

import (
	"mime"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
)

var jsonAPIMediaType = contenttype.NewMediaType(respond.MediaType)

// Negotiate enforces JSON:API content negotiation: the client must accept
// the JSON:API media type, and request bodies must be sent as it.
func Negotiate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accepts(r.Header.Values("Accept")) {
			respond.Error(w, respond.NewError(http.StatusNotAcceptable, "Not Acceptable",
				"The requested resource is capable of generating only content not acceptable according to the Accept headers sent in the request."), nil)
			return
		}

		if hasBody(r) && !isJSONAPI(r) {
			respond.Error(w, respond.NewError(http.StatusUnsupportedMediaType, "Unsupported Media Type",
				"The request entity has a media type which the server or resource does not support."), nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// accepts reports whether an Accept header allows the JSON:API media type
// without parameters. No header means anything is accepted.
func accepts(headers []string) bool {
	if len(headers) == 0 {
		return true
	}
	for _, header := range headers {
		for _, part := range strings.Split(header, ",") {
			mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			delete(params, "q")
			switch mediaType {
			case respond.MediaType:
				if len(params) == 0 {
					return true
				}
			case "*/*", "application/*":
				return true
			}
		}
	}
	return false
}

// isJSONAPI reports whether the request body is sent as the JSON:API
// media type with no parameters.
func isJSONAPI(r *http.Request) bool {
	ct, err := contenttype.GetMediaType(r)
	return err == nil &&
		ct.Type == jsonAPIMediaType.Type &&
		ct.Subtype == jsonAPIMediaType.Subtype &&
		len(ct.Parameters) == 0
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodPut:
		return true
	}
	return false
}
