package offlineproxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scoutscode/offlineproxy/queue"
)

//queuedResponseBody is the success-shaped body returned when a mutating request was
// persisted instead of delivered, the calling page treats the save as accepted
const queuedResponseBody = `{"success": true, "queued": true}`

//mutateAndQueue tries the annotation POST against the network first. On failure the
// request is persisted as a pending mutation and a queued success response is
// synthesized, the real persistence happens later through the replayer.
func (controller *OfflineController) mutateAndQueue(resp http.ResponseWriter, req *http.Request) {

	//The body is needed twice, once for the forward attempt and once for the queue
	body, err := io.ReadAll(req.Body)
	if err != nil {
		controller.Logger.WithError(err).Error("Error while reading mutating request body")

		http.Error(resp, "Error while reading request body", http.StatusBadRequest)
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	response, err := controller.fetchOrigin(req)
	if err == nil {
		//The network answered, return its response unmodified
		if err := writeHTTPResponse(resp, response); err != nil {
			controller.Logger.WithError(err).Error("Error while writing response to http client")
		}
		return
	}

	controller.Logger.WithError(err).WithField("url", req.URL.String()).Warning("Annotation save failed, queueing mutation for replay")

	if controller.Queue == nil {
		http.Error(resp, "Unable to contact origin server", http.StatusBadGateway)
		return
	}

	mutation := queue.PendingMutation{
		URL:         controller.replayURL(req),
		Body:        body,
		ContentType: req.Header.Get("Content-Type"),
		CreatedAt:   time.Now(),
	}

	if _, err := controller.Queue.Append(mutation); err != nil {
		//A queue store failure is propagated, the mutation may be lost and masking
		// that would be worse
		controller.Logger.WithError(err).WithFields(logrus.Fields{
			"url": mutation.URL,
		}).Error("Error while persisting pending mutation")

		http.Error(resp, "Unable to queue annotation", http.StatusInternalServerError)
		return
	}

	if depth, err := controller.Queue.Len(); err == nil {
		controller.Metrics.mutationQueued(depth)
	}

	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write([]byte(queuedResponseBody))
}

//replayURL builds the absolute URL a queued mutation will be replayed against
func (controller *OfflineController) replayURL(req *http.Request) string {
	if req.URL.Host != "" && req.URL.Scheme != "" {
		return req.URL.String()
	}

	target := &url.URL{
		Scheme:   "http",
		Host:     requestHost(req),
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}

	if controller.Forward != nil {
		target.Host = controller.Forward.Host
		if controller.Forward.TLS {
			target.Scheme = "https"
		}
	}

	return target.String()
}
