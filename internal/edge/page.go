package edge

import (
	"html/template"

	"github.com/gustycube/ip-sentinel/internal/snapshot"
)

// Site is the page configuration, built once at startup.
type Site struct {
	Title  string `json:"title"`
	Footer string `json:"footer"`
}

const (
	ShortName  = "Sentinel"
	BrandColor = "#030712"
	iconSVG    = "data:image/svg+xml,%3Csvg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 24 24' fill='none' stroke='%2306b6d4' stroke-width='2'%3E%3Cpath d='M12 22s8-4 8-10V5l-8-3-8 3v7c0 6 8 10 8 10z'/%3E%3Ccircle cx='12' cy='11' r='3'/%3E%3C/svg%3E"
)

type Icon struct {
	Src   string `json:"src"`
	Type  string `json:"type"`
	Sizes string `json:"sizes"`
}

type Manifest struct {
	Name            string `json:"name"`
	ShortName       string `json:"short_name"`
	StartURL        string `json:"start_url"`
	Display         string `json:"display"`
	BackgroundColor string `json:"background_color"`
	ThemeColor      string `json:"theme_color"`
	Icons           []Icon `json:"icons"`
}

func NewManifest(site Site) Manifest {
	return Manifest{
		Name:            site.Title,
		ShortName:       ShortName,
		StartURL:        "/",
		Display:         "standalone",
		BackgroundColor: BrandColor,
		ThemeColor:      BrandColor,
		Icons:           []Icon{{Src: iconSVG, Type: "image/svg+xml", Sizes: "192x192"}},
	}
}

type pageData struct {
	Site Site
	Conn snapshot.Connection
}

// Values inside <script> are JSON-encoded by html/template's JS escaper.
var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en" class="dark">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0, viewport-fit=cover">
<title>{{.Site.Title}}</title>
<meta name="theme-color" content="#030712">
<link rel="manifest" href="/manifest.json">
<script>
window.CF_DATA = {{.Conn}};
window.SITE_CONFIG = {{.Site}};
</script>
<script type="application/json" id="cf-data">{{.Conn}}</script>
<style>
body{background:#030712;color:#e5e7eb;font-family:ui-monospace,monospace;margin:0;padding:2rem}
h1{color:#06b6d4;letter-spacing:.2em}
dl{display:grid;grid-template-columns:max-content 1fr;gap:.4rem 1.5rem}
dt{color:#6b7280;text-transform:uppercase;font-size:.8rem}
footer{border-top:1px solid #1f2937;margin-top:3rem;padding-top:1rem;color:#6b7280;text-align:center}
</style>
</head>
<body>
<h1>{{.Site.Title}}</h1>
<section id="edge">
<dl>
<dt>IP</dt><dd id="ip">{{.Conn.IP}}</dd>
<dt>Location</dt><dd id="location">{{.Conn.City}}{{with .Conn.Region}}, {{.}}{{end}}, {{.Conn.Country}}</dd>
<dt>ISP</dt><dd id="isp">{{.Conn.ISP}}</dd>
<dt>ASN</dt><dd id="asn">{{.Conn.ASN}}</dd>
<dt>Coordinates</dt><dd id="coords">{{printf "%.4f" .Conn.Latitude}}, {{printf "%.4f" .Conn.Longitude}}</dd>
<dt>Data center</dt><dd id="colo">{{.Conn.Colo}}</dd>
<dt>Timezone</dt><dd id="timezone">{{.Conn.Timezone}}</dd>
<dt>Protocol</dt><dd id="protocol">{{.Conn.HTTPProtocol}}</dd>
<dt>TLS</dt><dd id="tls">{{.Conn.TLSVersion}}</dd>
<dt>User agent</dt><dd id="ua">{{.Conn.UserAgent}}</dd>
</dl>
</section>
<footer>{{.Site.Footer}}</footer>
</body>
</html>
`))
