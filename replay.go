package offlineproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

//ReplayQueueMessage is the message type that triggers a replay pass.
// Connectivity detection is the calling page's responsibility, nothing inside the
// proxy replays on a timer or a connectivity event.
const ReplayQueueMessage = "REPLAY_QUEUE"

//A ReplayResult records the outcome of replaying one pending mutation.
// Replay is best-effort with no retry: an undelivered item is reported here and
// nowhere else, it is cleared from the store together with the delivered ones.
type ReplayResult struct {
	URL       string
	Delivered bool
}

//ReplayQueue drains the pending mutation store. Every stored mutation is re-issued
// as a network POST with its original URL, body and content type, each awaited
// independently. Individual failures are swallowed, after every item has been
// attempted the whole store is cleared regardless of the outcomes.
func (controller *OfflineController) ReplayQueue(ctx context.Context) ([]ReplayResult, error) {
	controller.setDefaults()

	if controller.Queue == nil {
		return nil, nil
	}

	mutations, err := controller.Queue.All()
	if err != nil {
		return nil, err
	}

	//An empty queue performs zero network calls
	if len(mutations) == 0 {
		return nil, nil
	}

	results := make([]ReplayResult, 0, len(mutations))

	for _, mutation := range mutations {
		delivered := controller.replayOne(ctx, mutation.URL, mutation.Body, mutation.ContentType)

		results = append(results, ReplayResult{
			URL:       mutation.URL,
			Delivered: delivered,
		})
	}

	controller.Metrics.mutationsReplayed(len(results))

	if err := controller.Queue.Clear(); err != nil {
		return results, err
	}

	return results, nil
}

func (controller *OfflineController) replayOne(ctx context.Context, url string, body []byte, contentType string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		controller.Logger.WithError(err).WithField("url", url).Warning("Skipping replay of malformed pending mutation")
		return false
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	response, err := controller.transport().RoundTrip(req)
	if err != nil {
		controller.Logger.WithError(err).WithField("url", url).Warning("Replay of pending mutation failed")
		return false
	}

	//Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()

	controller.Logger.WithFields(logrus.Fields{
		"url":    url,
		"status": response.StatusCode,
	}).Info("Replayed pending mutation")

	return true
}

//message is the generic signal envelope posted by the live page
type message struct {
	Type string `json:"type"`
}

//MessageHandler returns the handler for the generic message signal. A message with
// type REPLAY_QUEUE is the only trigger for the replayer.
func (controller *OfflineController) MessageHandler() http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		controller.setDefaults()

		if req.Method != http.MethodPost {
			http.Error(resp, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			http.Error(resp, "Malformed message", http.StatusBadRequest)
			return
		}

		if msg.Type != ReplayQueueMessage {
			//Unknown message types are acknowledged and ignored
			resp.WriteHeader(http.StatusNoContent)
			return
		}

		results, err := controller.ReplayQueue(req.Context())
		if err != nil {
			controller.Logger.WithError(err).Error("Error while replaying pending mutations")

			http.Error(resp, "Error while replaying queue", http.StatusInternalServerError)
			return
		}

		delivered := 0
		for _, result := range results {
			if result.Delivered {
				delivered++
			}
		}

		resp.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(resp).Encode(map[string]int{
			"attempted": len(results),
			"delivered": delivered,
		})
	})
}
