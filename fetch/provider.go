package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/globegl/globeview/tile"
)

// AuthMode selects how provider credentials are attached to requests.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthAPIKey
	AuthBearer
	AuthBasic
)

// Provider describes one tile server.
type Provider struct {
	Name        string
	URLTemplate string // with {x}, {y}, {z} and optional {s}
	Subdomains  string // e.g. "abc", rotated per tile
	MinZoom     int32
	MaxZoom     int32
	Format      string // file extension, e.g. "png"
	Headers     map[string]string
	Auth        AuthMode
	APIKey      string
	Username    string
	Password    string
}

// Builtin providers, keyed by name.
var builtinProviders = map[string]Provider{
	"osm": {
		Name:        "osm",
		URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Subdomains:  "abc",
		MinZoom:     0,
		MaxZoom:     19,
		Format:      "png",
	},
	"osm-hot": {
		Name:        "osm-hot",
		URLTemplate: "https://{s}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png",
		Subdomains:  "abc",
		MinZoom:     0,
		MaxZoom:     19,
		Format:      "png",
	},
	"carto-light": {
		Name:        "carto-light",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}.png",
		Subdomains:  "abcd",
		MinZoom:     0,
		MaxZoom:     20,
		Format:      "png",
	},
	"carto-dark": {
		Name:        "carto-dark",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
		Subdomains:  "abcd",
		MinZoom:     0,
		MaxZoom:     20,
		Format:      "png",
	},
}

// BuiltinProvider returns a copy of a named builtin provider.
func BuiltinProvider(name string) (Provider, error) {
	p, ok := builtinProviders[name]
	if !ok {
		return Provider{}, fmt.Errorf("unknown tile provider %q", name)
	}
	return p, nil
}

// BuiltinProviderNames lists the available builtin providers.
func BuiltinProviderNames() []string {
	names := make([]string, 0, len(builtinProviders))
	for name := range builtinProviders {
		names = append(names, name)
	}
	return names
}

// HasSubdomainPlaceholder reports whether the URL template expects a
// subdomain substitution.
func (p *Provider) HasSubdomainPlaceholder() bool {
	return strings.Contains(p.URLTemplate, "{s}")
}

// Subdomain returns the round-robin subdomain for a tile, or the empty
// string when none are configured.
func (p *Provider) Subdomain(k tile.Key) string {
	if len(p.Subdomains) == 0 {
		return ""
	}
	i := int(k.X+k.Y) % len(p.Subdomains)
	return string(p.Subdomains[i])
}

// URL expands the template for one tile.
func (p *Provider) URL(k tile.Key) string {
	r := strings.NewReplacer(
		"{x}", strconv.Itoa(int(k.X)),
		"{y}", strconv.Itoa(int(k.Y)),
		"{z}", strconv.Itoa(int(k.Z)),
		"{s}", p.Subdomain(k),
	)
	url := r.Replace(p.URLTemplate)
	if p.Auth == AuthAPIKey && p.APIKey != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "api_key=" + p.APIKey
	}
	return url
}

// NewRequest builds an HTTP GET for one tile with the provider's
// headers and credentials attached.
func (p *Provider) NewRequest(k tile.Key) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, p.URL(k), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "globeview 1.0")
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}
	switch p.Auth {
	case AuthBearer:
		if p.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}
	case AuthBasic:
		req.SetBasicAuth(p.Username, p.Password)
	}
	return req, nil
}

// SupportsZoom reports whether the provider serves the given zoom.
func (p *Provider) SupportsZoom(z int32) bool {
	return z >= p.MinZoom && z <= p.MaxZoom
}
