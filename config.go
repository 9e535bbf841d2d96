package offlineproxy

import (
	"net/url"

	"github.com/scoutscode/offlineproxy/bucket"
)

//Config is the immutable classification and bucket configuration of the proxy.
// It is read-only after construction, the only runtime state lives in the cache
// buckets and the persistent queue store.
type Config struct {

	//Version tags the current generation of cache buckets, for example "v3".
	// Buckets carrying another version tag are deleted during activation.
	Version string

	//SiteOrigin is the origin of the site itself, for example "https://scoutscode.com".
	// Requests for other hosts are treated as cross-origin.
	SiteOrigin string

	//StaticPrefix is the path prefix of first-party static assets
	StaticPrefix string

	//APIPrefix is the path prefix of the JSON API
	APIPrefix string

	//AssetHosts is the allow-list of third-party hosts whose assets are cached like
	// first-party static assets (CDN stylesheets, font hosts)
	AssetHosts []string

	//AnnotationPath is the one mutating endpoint whose failed requests are queued for replay
	AnnotationPath string

	//OfflinePath is the path of the generic offline page, precached at install
	OfflinePath string

	//CoreRulesPath is the single-page rules view used as redirect target for
	// rule-section fallbacks
	CoreRulesPath string

	//CardsAPIPath is the bulk card dataset endpoint used by the synthesized card page
	CardsAPIPath string

	//ImageCacheLimit is the entry cap of the image bucket, enforced by
	// oldest-inserted-first eviction
	ImageCacheLimit int

	//Precache is the ordered set of URLs fetched and stored unconditionally at install.
	// Install fails if any fetch in this set fails.
	Precache []string
}

//NewConfig creates a Config with the defaults of the scoutscode site
func NewConfig() *Config {
	return &Config{
		Version:    "v1",
		SiteOrigin: "https://scoutscode.com",

		StaticPrefix: "/static/",
		APIPrefix:    "/api/",

		AssetHosts: []string{
			"cdn.jsdelivr.net",
			"fonts.googleapis.com",
			"fonts.gstatic.com",
		},

		AnnotationPath: "/api/save-annotation/",
		OfflinePath:    "/offline/",
		CoreRulesPath:  "/core-rules/",
		CardsAPIPath:   "/api/cards/all/",

		ImageCacheLimit: 200,

		Precache: []string{
			"/",
			"/posts/",
			"/core-rules/",
			"/cards/",
			"/offline/",
			"/static/css/style.css",
			"/static/favicon.ico",
		},
	}
}

//StaticBucket returns the name of the current static bucket
func (c *Config) StaticBucket() string {
	return bucket.Name("static", c.Version)
}

//PageBucket returns the name of the current page bucket
func (c *Config) PageBucket() string {
	return bucket.Name("page", c.Version)
}

//ImageBucket returns the name of the current image bucket
func (c *Config) ImageBucket() string {
	return bucket.Name("image", c.Version)
}

//CurrentBucketNames returns the names of the three buckets of the current version.
// Every other bucket is stale and removed by the activation sweep.
func (c *Config) CurrentBucketNames() []string {
	return []string{c.StaticBucket(), c.PageBucket(), c.ImageBucket()}
}

//siteHost returns the host part of the configured site origin
func (c *Config) siteHost() string {
	u, err := url.Parse(c.SiteOrigin)
	if err != nil {
		return ""
	}
	return u.Host
}

//ForwardConfig holds the information needed to forward a request to the origin server
type ForwardConfig struct {
	//Host is the hostname (and optional port) of the origin server
	Host string

	//TLS indicates if the connection to the origin server should use TLS
	TLS bool
}
