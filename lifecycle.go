package offlineproxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

//Install fetches and stores every precache URL into the static bucket.
// Any failed fetch aborts the installation entirely, a previously activated bucket
// generation stays in place.
func (controller *OfflineController) Install(ctx context.Context) error {
	controller.setDefaults()

	store := controller.Buckets.Open(controller.Config.StaticBucket())
	siteHost := controller.Config.siteHost()

	for _, path := range controller.Config.Precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		req.Host = siteHost

		response, err := controller.fetchOrigin(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}

		entry, err := entryFromResponse(response)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}

		if entry.Status < 200 || entry.Status >= 300 {
			return fmt.Errorf("precache %s: unexpected status %d", path, entry.Status)
		}

		if err := store.Set(cacheKey(req), entry); err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}

		controller.Logger.WithField("url", path).Debug("Precached")
	}

	controller.Logger.WithField("count", len(controller.Config.Precache)).Info("Install complete")

	return nil
}

//Activate deletes every bucket whose name is not one of the three current bucket
// names. Activation must complete before the controller serves intercepted requests,
// callers await it before wiring the handler.
func (controller *OfflineController) Activate() error {
	controller.setDefaults()

	current := make(map[string]bool, 3)
	for _, name := range controller.Config.CurrentBucketNames() {
		current[name] = true
	}

	for _, name := range controller.Buckets.Names() {
		if current[name] {
			continue
		}

		controller.Buckets.Drop(name)

		controller.Logger.WithFields(logrus.Fields{
			"bucket":  name,
			"version": controller.Config.Version,
		}).Info("Deleted superseded cache bucket")
	}

	return nil
}
