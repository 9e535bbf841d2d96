package offlineproxy

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scoutscode/offlineproxy/bucket"
)

//cacheFirst serves a cached entry when one exists and only then tries the network.
// Successful (2xx) network responses are stored before they are returned, so a
// response the client saw is always the response in the bucket.
func (controller *OfflineController) cacheFirst(resp http.ResponseWriter, req *http.Request, bucketName string) {
	controller.serveCacheFirst(resp, req, bucketName, 0)
}

//cacheFirstWithLimit is cache-first with oldest-inserted-first eviction once the
// bucket exceeds limit entries.
//
// The count-then-delete pair is deliberately not atomic: concurrent insertions can
// make the bucket transiently overshoot the limit by more than one entry, and two
// racing evictions can remove one entry more than strictly needed. Both outcomes
// are accepted, the policy is FIFO best-effort, not a hard cap and not LRU.
func (controller *OfflineController) cacheFirstWithLimit(resp http.ResponseWriter, req *http.Request, bucketName string, limit int) {
	controller.serveCacheFirst(resp, req, bucketName, limit)
}

func (controller *OfflineController) serveCacheFirst(resp http.ResponseWriter, req *http.Request, bucketName string, limit int) {
	store := controller.Buckets.Open(bucketName)
	key := cacheKey(req)

	entry, err := store.Get(key)
	if err != nil {
		controller.Logger.WithError(err).WithField("cache-key", key).Error("Error while attempting to find cache key in bucket")

		http.Error(resp, "Error while attempting to find cached response", http.StatusInternalServerError)
		return
	}

	if entry != nil {
		controller.Metrics.cacheHit(bucketName)

		if err := writeEntry(resp, entry); err != nil {
			controller.Logger.WithError(err).Error("Error while writing cached response to http client")
		}
		return
	}

	controller.Metrics.cacheMiss(bucketName)

	response, err := controller.fetchOrigin(req)
	if err != nil {
		//A network failure with no cache entry propagates as a failed response
		controller.Logger.WithError(err).WithFields(logrus.Fields{
			"cache-key": key,
			"bucket":    bucketName,
		}).Warning("Error while fetching from origin server with no cached entry")

		http.Error(resp, "Unable to contact origin server", http.StatusBadGateway)
		return
	}

	entry, err = entryFromResponse(response)
	if err != nil {
		controller.Logger.WithError(err).Error("Error while reading origin response")

		http.Error(resp, "Error while reading origin response", http.StatusBadGateway)
		return
	}

	//Store before returning so the cached copy is the copy the client saw
	if entry.Status >= 200 && entry.Status < 300 {
		if err := store.Set(key, entry); err != nil {
			controller.Logger.WithError(err).WithFields(logrus.Fields{
				"cache-key": key,
				"bucket":    bucketName,
			}).Error("Error while attempting to store response in bucket")
		} else if limit > 0 {
			controller.evictOldest(store, bucketName, limit)
		}
	}

	if err := writeEntry(resp, entry); err != nil {
		controller.Logger.WithError(err).Error("Error while writing response to http client")
	}
}

//evictOldest deletes the single oldest-inserted entry once the bucket exceeds the limit.
// Eviction is best-effort, errors are logged and swallowed.
func (controller *OfflineController) evictOldest(store bucket.Store, bucketName string, limit int) {

	count, err := store.Len()
	if err != nil {
		controller.Logger.WithError(err).WithField("bucket", bucketName).Error("Error while counting bucket entries for eviction")
		return
	}

	if count <= limit {
		return
	}

	oldest, err := store.OldestKey()
	if err != nil {
		controller.Logger.WithError(err).WithField("bucket", bucketName).Error("Error while finding oldest bucket entry for eviction")
		return
	}

	if oldest == "" {
		return
	}

	if err := store.Delete(oldest); err != nil {
		controller.Logger.WithError(err).WithFields(logrus.Fields{
			"bucket":    bucketName,
			"cache-key": oldest,
		}).Error("Error while evicting oldest bucket entry")
	}
}

//networkFirst tries the network and falls back to the cache, then to a synthesized
// response, when the origin is unreachable.
func (controller *OfflineController) networkFirst(resp http.ResponseWriter, req *http.Request, bucketName string, fallback Fallback) {
	store := controller.Buckets.Open(bucketName)
	key := cacheKey(req)

	response, err := controller.fetchOrigin(req)
	if err == nil {
		entry, err := entryFromResponse(response)
		if err != nil {
			controller.Logger.WithError(err).Error("Error while reading origin response")

			http.Error(resp, "Error while reading origin response", http.StatusBadGateway)
			return
		}

		if entry.Status >= 200 && entry.Status < 300 {
			if err := store.Set(key, entry); err != nil {
				controller.Logger.WithError(err).WithFields(logrus.Fields{
					"cache-key": key,
					"bucket":    bucketName,
				}).Error("Error while attempting to store response in bucket")
			}
		}

		if err := writeEntry(resp, entry); err != nil {
			controller.Logger.WithError(err).Error("Error while writing response to http client")
		}
		return
	}

	controller.Logger.WithError(err).WithFields(logrus.Fields{
		"cache-key": key,
		"bucket":    bucketName,
	}).Warning("Error while fetching from origin server, falling back to cache")

	entry, cacheErr := store.Get(key)
	if cacheErr != nil {
		controller.Logger.WithError(cacheErr).WithField("cache-key", key).Error("Error while attempting to find cache key in bucket")
	}

	if entry != nil {
		controller.Metrics.cacheHit(bucketName)

		if err := writeEntry(resp, entry); err != nil {
			controller.Logger.WithError(err).Error("Error while writing cached response to http client")
		}
		return
	}

	controller.Metrics.cacheMiss(bucketName)

	//Network and cache both missed, hand the request to a synthesizer
	switch fallback {
	case FallbackRuleSection:
		controller.ruleSectionFallback(resp, req)
	case FallbackCard:
		controller.cardFallback(resp, req)
	default:
		if wantsHTML(req) {
			controller.serveOfflinePage(resp)
			return
		}

		resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
		resp.WriteHeader(http.StatusServiceUnavailable)
		_, _ = resp.Write([]byte("Offline"))
	}
}
