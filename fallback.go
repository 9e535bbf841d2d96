package offlineproxy

import (
	"encoding/json"
	"fmt"
	"net/http"
)

//ruleSectionFallback answers an offline rule-section request with a redirect to the
// single-page rules view, anchored at the requested section.
func (controller *OfflineController) ruleSectionFallback(resp http.ResponseWriter, req *http.Request) {
	matches := ruleSectionPattern.FindStringSubmatch(req.URL.Path)
	if matches == nil {
		controller.serveOfflinePage(resp)
		return
	}

	section := matches[1]

	resp.Header().Set("Location", controller.Config.CoreRulesPath+"#rule-"+section)
	resp.WriteHeader(http.StatusFound)
}

//cardFallback answers an offline card-detail request with a self-contained HTML page
// whose inline script renders the card from a previously cached dataset: the
// page-local cardData key first, the cached bulk card API second.
func (controller *OfflineController) cardFallback(resp http.ResponseWriter, req *http.Request) {
	matches := cardDetailPattern.FindStringSubmatch(req.URL.Path)
	if matches == nil {
		controller.serveOfflinePage(resp)
		return
	}

	page, err := renderCardPage(matches[1], controller.Config.CardsAPIPath)
	if err != nil {
		controller.Logger.WithError(err).Error("Error while synthesizing offline card page")

		controller.serveOfflinePage(resp)
		return
	}

	resp.Header().Set("Content-Type", "text/html; charset=utf-8")
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write(page)
}

//serveOfflinePage writes the generic offline page, preferring the precached copy
// over the built-in document.
func (controller *OfflineController) serveOfflinePage(resp http.ResponseWriter) {
	store := controller.Buckets.Open(controller.Config.StaticBucket())
	key := http.MethodGet + " " + controller.Config.siteHost() + controller.Config.OfflinePath

	entry, err := store.Get(key)
	if err != nil {
		controller.Logger.WithError(err).WithField("cache-key", key).Error("Error while attempting to find offline page in bucket")
	}

	if entry != nil {
		if err := writeEntry(resp, entry); err != nil {
			controller.Logger.WithError(err).Error("Error while writing offline page to http client")
		}
		return
	}

	resp.Header().Set("Content-Type", "text/html; charset=utf-8")
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write([]byte(builtinOfflinePage))
}

const builtinOfflinePage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>You are offline</h1>
<p>This page is not available offline. Reconnect and try again.</p>
</body>
</html>
`

//renderCardPage builds the synthesized card-detail document. The card id is embedded
// as a JSON literal, json.Marshal escapes the characters that would break out of the
// script context.
func renderCardPage(cardID, cardsAPIPath string) ([]byte, error) {
	idLiteral, err := json.Marshal(cardID)
	if err != nil {
		return nil, err
	}

	apiLiteral, err := json.Marshal(cardsAPIPath)
	if err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf(cardPageTemplate, idLiteral, apiLiteral)), nil
}

//cardPageTemplate is the offline substitute for a card detail page. It renders
// entirely client-side: localStorage.cardData is consulted first, the cached bulk
// card API response second, and a "not available offline" notice is shown when no
// matching record is found.
const cardPageTemplate = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Card (offline)</title>
<style>
body { font-family: sans-serif; margin: 2rem auto; max-width: 40rem; padding: 0 1rem; }
.card-image { max-width: 16rem; display: block; margin-bottom: 1rem; }
.offline-notice { color: #666; }
dt { font-weight: bold; }
</style>
</head>
<body>
<div id="card"><p class="offline-notice">Loading cached card data&hellip;</p></div>
<script>
(function () {
  var cardID = %s;
  var cardsAPI = %s;
  var root = document.getElementById("card");

  function notFound() {
    root.innerHTML = "";
    var p = document.createElement("p");
    p.className = "offline-notice";
    p.textContent = "This card is not available offline.";
    root.appendChild(p);
  }

  function field(dl, label, value) {
    if (value === undefined || value === null || value === "") return;
    var dt = document.createElement("dt");
    dt.textContent = label;
    var dd = document.createElement("dd");
    dd.textContent = String(value);
    dl.appendChild(dt);
    dl.appendChild(dd);
  }

  function render(card) {
    root.innerHTML = "";
    var h1 = document.createElement("h1");
    h1.textContent = card.name;
    root.appendChild(h1);
    if (card.image_url) {
      var img = document.createElement("img");
      img.className = "card-image";
      img.src = card.image_url;
      img.alt = card.name;
      root.appendChild(img);
    }
    var dl = document.createElement("dl");
    field(dl, "Type", card.card_type);
    field(dl, "Set", card.card_set);
    field(dl, "Rarity", card.rarity);
    field(dl, "Domains", (card.domains || []).join(", "));
    field(dl, "Energy", card.energy);
    field(dl, "Power", card.power);
    field(dl, "Collector number", card.collector_number);
    field(dl, "Ability", card.ability);
    field(dl, "Errata", card.errata_text);
    root.appendChild(dl);
  }

  function lookup(cards) {
    if (!Array.isArray(cards)) return null;
    for (var i = 0; i < cards.length; i++) {
      if (cards[i] && cards[i].card_id === cardID) return cards[i];
    }
    return null;
  }

  var raw = null;
  try { raw = localStorage.getItem("cardData"); } catch (e) {}
  if (raw) {
    try {
      var cards = JSON.parse(raw);
      if (Array.isArray(cards)) {
        var card = lookup(cards);
        if (card) { render(card); } else { notFound(); }
        return;
      }
    } catch (e) {}
  }

  fetch(cardsAPI)
    .then(function (r) { return r.json(); })
    .then(function (cards) {
      var card = lookup(cards);
      if (card) { render(card); } else { notFound(); }
    })
    .catch(notFound);
})();
</script>
</body>
</html>
`
