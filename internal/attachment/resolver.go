// Package attachment convierte referencias de archivos adjuntos en URLs visibles para el cliente.
package attachment

import (
	"net/url"
	"strings"
)

// Resolver traduce attachment_ref a una URL descargable.
type Resolver interface {
	URL(ref string) string
}

// URLResolver arma la URL concatenando la referencia a una base publica (bucket o CDN).
// Si la referencia ya es absoluta se devuelve tal cual.
type URLResolver struct {
	base *url.URL
}

func NewURLResolver(baseURL string) *URLResolver {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return &URLResolver{}
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return &URLResolver{}
	}
	return &URLResolver{base: u}
}

func (r *URLResolver) URL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if r == nil || r.base == nil {
		return ref
	}
	rel := &url.URL{Path: strings.TrimLeft(ref, "/")}
	return r.base.ResolveReference(rel).String()
}
