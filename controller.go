//Package offlineproxy implements the offline-resilience layer of the scoutscode site:
//a request-interception proxy that classifies every request, applies a per-route
//caching strategy against named versioned cache buckets, persists failed annotation
//saves for later replay and synthesizes degraded responses when network and cache
//both miss.
package offlineproxy

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scoutscode/offlineproxy/bucket"
	"github.com/scoutscode/offlineproxy/queue"
)

//The OfflineController is the high level interface of the offline layer. It routes
// every intercepted request through the classification chain and dispatches it to
// exactly one strategy.
type OfflineController struct {

	//Config is the immutable classification and bucket configuration
	// if nil on first usage the default config from NewConfig will be used
	Config *Config

	//Router holds the ordered classification rules
	// if nil on first usage a router is built from the config
	Router *Router

	//Buckets holds the named cache buckets shared by all request handlers
	// if nil on first usage an in-memory set is created
	Buckets *bucket.Set

	//Queue is the persistent store of pending mutations.
	// If nil the mutate-and-queue path degrades to plain pass-through errors.
	Queue *queue.Store

	//Forward describes the origin server requests are forwarded to
	Forward *ForwardConfig

	//The default transport used to contact origin servers
	// If nil the http.DefaultTransport will be used
	Transport http.RoundTripper

	//Metrics is optional, when set cache and queue activity is counted
	Metrics *Metrics

	//The Logger which will be used for logging
	// if nil the default logger will be used
	Logger *logrus.Logger
}

func (controller *OfflineController) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	controller.setDefaults()

	decision := controller.Router.Route(req)

	switch decision.Action {

	case ActionIgnore:
		controller.passThrough(resp, req)

	case ActionMutateAndQueue:
		controller.mutateAndQueue(resp, req)

	case ActionStrategy:
		switch decision.Strategy {
		case StrategyCacheFirst:
			controller.cacheFirst(resp, req, decision.Bucket)
		case StrategyCacheFirstWithLimit:
			controller.cacheFirstWithLimit(resp, req, decision.Bucket, decision.Limit)
		case StrategyNetworkFirst:
			controller.networkFirst(resp, req, decision.Bucket, decision.Fallback)
		}
	}
}

//setDefaults fills the optional collaborators so the zero value of the
// controller stays usable
func (controller *OfflineController) setDefaults() {
	if controller.Logger == nil {
		controller.Logger = logrus.New()
	}

	if controller.Config == nil {
		controller.Config = NewConfig()
	}

	if controller.Router == nil {
		controller.Router = NewRouter(controller.Config)
	}

	if controller.Buckets == nil {
		controller.Buckets = bucket.NewSet(nil)
	}
}

//transport returns the transport used to reach origin servers
func (controller *OfflineController) transport() http.RoundTripper {
	if controller.Transport != nil {
		return controller.Transport
	}
	return http.DefaultTransport
}

//fetchOrigin forwards the request to its origin server
func (controller *OfflineController) fetchOrigin(req *http.Request) (*http.Response, error) {
	return fetchFromOrigin(req.Context(), controller.transport(), controller.Forward, req)
}

//passThrough forwards a request untouched, no caching and no fallback
func (controller *OfflineController) passThrough(resp http.ResponseWriter, req *http.Request) {
	response, err := controller.fetchOrigin(req)
	if err != nil {
		//Log as a warning since errors here are expected when the origin server is down
		controller.Logger.WithError(err).WithFields(logrus.Fields{
			"method": req.Method,
			"url":    req.URL.String(),
		}).Warning("Error while passing request through to origin server")

		http.Error(resp, "Unable to contact origin server", http.StatusBadGateway)
		return
	}

	if err := writeHTTPResponse(resp, response); err != nil {
		controller.Logger.WithError(err).Error("Error while writing response to http client")
	}
}
