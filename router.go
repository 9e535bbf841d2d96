package offlineproxy

import (
	"net/http"
	"path"
	"regexp"
	"strings"
)

//Action is the top-level decision for an intercepted request
type Action int

const (
	//ActionIgnore passes the request through to the network untouched
	ActionIgnore Action = iota

	//ActionMutateAndQueue tries the network first and queues the request for
	// replay when the network fails
	ActionMutateAndQueue

	//ActionStrategy dispatches the request to one of the caching strategies
	ActionStrategy
)

//Strategy selects one of the caching strategies of the executor
type Strategy int

const (
	StrategyCacheFirst Strategy = iota
	StrategyCacheFirstWithLimit
	StrategyNetworkFirst
)

//Fallback selects the synthesizer layered on top of network-first for two route families
type Fallback int

const (
	FallbackNone Fallback = iota
	FallbackRuleSection
	FallbackCard
)

//A Decision is the outcome of classifying a single request.
// Decisions are computed per request and never persisted.
type Decision struct {
	Action   Action
	Strategy Strategy

	//Bucket is the name of the cache bucket the strategy operates on
	Bucket string

	//Limit is the entry cap for StrategyCacheFirstWithLimit, 0 otherwise
	Limit int

	Fallback Fallback
}

type routeRule struct {
	match    func(req *http.Request) bool
	decision Decision
}

//The Router classifies each intercepted request by URL shape.
// Rules are evaluated in order and the first match wins, later rules are only
// reachable when all earlier ones fail.
type Router struct {
	rules []routeRule
}

var (
	ruleSectionPattern = regexp.MustCompile(`^/(?:crsections|trsections)/([^/]+)/?$`)
	cardDetailPattern  = regexp.MustCompile(`^/cards/([^/]+)/?$`)
)

//NewRouter builds the classification rule chain for the given config
func NewRouter(config *Config) *Router {
	siteHost := hostWithoutPort(config.siteHost())

	assetHosts := make(map[string]bool, len(config.AssetHosts))
	for _, host := range config.AssetHosts {
		assetHosts[host] = true
	}

	ignore := Decision{Action: ActionIgnore}

	return &Router{rules: []routeRule{
		//Only GET and POST take part in the offline machinery
		{
			match: func(req *http.Request) bool {
				return req.Method != http.MethodGet && req.Method != http.MethodPost
			},
			decision: ignore,
		},

		//The annotation save endpoint is the one mutating request we preserve offline
		{
			match: func(req *http.Request) bool {
				return req.Method == http.MethodPost && req.URL.Path == config.AnnotationPath
			},
			decision: Decision{Action: ActionMutateAndQueue},
		},

		//Any other POST passes through untouched
		{
			match: func(req *http.Request) bool {
				return req.Method == http.MethodPost
			},
			decision: ignore,
		},

		//First-party static assets
		{
			match: func(req *http.Request) bool {
				return strings.HasPrefix(req.URL.Path, config.StaticPrefix)
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyCacheFirst,
				Bucket:   config.StaticBucket(),
			},
		},

		//Allow-listed third-party asset hosts are cached like first-party statics
		{
			match: func(req *http.Request) bool {
				return assetHosts[hostWithoutPort(requestHost(req))]
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyCacheFirst,
				Bucket:   config.StaticBucket(),
			},
		},

		//Cross-origin images go to the bounded image bucket.
		// Hosts are compared without their port, a same-origin request arriving
		// with an explicit port is not cross-origin.
		{
			match: func(req *http.Request) bool {
				host := hostWithoutPort(requestHost(req))
				return isImageRequest(req) && host != "" && host != siteHost
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyCacheFirstWithLimit,
				Bucket:   config.ImageBucket(),
				Limit:    config.ImageCacheLimit,
			},
		},

		//Rule section detail pages redirect to the single-page rules view when offline
		{
			match: func(req *http.Request) bool {
				return ruleSectionPattern.MatchString(req.URL.Path)
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyNetworkFirst,
				Bucket:   config.PageBucket(),
				Fallback: FallbackRuleSection,
			},
		},

		//Card detail pages get a client-rendered substitute when offline.
		// The bare listing path is excluded, it goes through the default rule.
		{
			match: func(req *http.Request) bool {
				return cardDetailPattern.MatchString(req.URL.Path)
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyNetworkFirst,
				Bucket:   config.PageBucket(),
				Fallback: FallbackCard,
			},
		},

		//Exhaustive default: HTML navigations, the API prefix and everything else
		// are network-first against the page bucket
		{
			match: func(req *http.Request) bool {
				return true
			},
			decision: Decision{
				Action:   ActionStrategy,
				Strategy: StrategyNetworkFirst,
				Bucket:   config.PageBucket(),
			},
		},
	}}
}

//Route classifies a request, no request falls through unclassified
func (r *Router) Route(req *http.Request) Decision {
	for _, rule := range r.rules {
		if rule.match(req) {
			return rule.decision
		}
	}

	//Unreachable, the last rule matches everything
	return Decision{Action: ActionIgnore}
}

//requestHost returns the logical host a request targets, either the Host header
// of the intercepted request or the host of an absolute request URL
func requestHost(req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}

func hostWithoutPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

//imageExtensions mirrors the image formats the site actually serves
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
}

//isImageRequest reports whether a request targets an image.
// The browser destination is carried in Sec-Fetch-Dest when present, the file
// extension is the fallback signal for clients that don't send it.
func isImageRequest(req *http.Request) bool {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "image"
	}

	return imageExtensions[strings.ToLower(path.Ext(req.URL.Path))]
}

//wantsHTML reports whether the client asked for an HTML response
func wantsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
