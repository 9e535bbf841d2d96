package offlineproxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSectionFallbackRedirectsToAnchor(t *testing.T) {
	controller := newTestController(errTransport)

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crsections/448.1/", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/core-rules/#rule-448.1", rec.Header().Get("Location"))
}

func TestTournamentSectionFallbackRedirectsToAnchor(t *testing.T) {
	controller := newTestController(errTransport)

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trsections/B2/", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/core-rules/#rule-B2", rec.Header().Get("Location"))
}

func TestRuleSectionPrefersCachedEntryOverRedirect(t *testing.T) {
	controller := newTestController(okTransport("<html>section 448.1</html>", nil))

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crsections/448.1/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	controller.Transport = errTransport

	//The fallback only layers after the cache lookup fails
	rec = httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crsections/448.1/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>section 448.1</html>", rec.Body.String())
}

func TestCardFallbackSynthesizesSelfContainedPage(t *testing.T) {
	controller := newTestController(errTransport)

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cards/ABC-001/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()

	//The card id is embedded as a JSON literal for the inline script
	assert.Contains(t, body, `var cardID = "ABC-001";`)

	//The page-local store is consulted before the bulk API is fetched
	localRead := `localStorage.getItem("cardData")`
	bulkFetch := `fetch(cardsAPI)`
	assert.Contains(t, body, `"/api/cards/all/"`)
	assert.Contains(t, body, localRead)
	assert.Contains(t, body, bulkFetch)
	assert.Less(t, strings.Index(body, localRead), strings.Index(body, bulkFetch))

	//A missing record renders an explicit notice, not a blank page
	assert.Contains(t, body, "This card is not available offline.")

	//The rendered fields cover the card record shape
	for _, field := range []string{"card.name", "card.image_url", "card.card_type", "card.card_set", "card.rarity", "card.domains", "card.energy", "card.power", "card.collector_number", "card.ability", "card.errata_text"} {
		assert.Contains(t, body, field)
	}
}

func TestCardFallbackEscapesCardID(t *testing.T) {
	page, err := renderCardPage(`"><script>alert(1)</script>`, "/api/cards/all/")
	require.NoError(t, err)

	//json.Marshal escapes the angle brackets, the raw tag must not appear
	assert.NotContains(t, string(page), "<script>alert(1)</script>")
	assert.Contains(t, string(page), "\\u003cscript\\u003e")
}

func TestCardListingDoesNotGetCardFallback(t *testing.T) {
	controller := newTestController(errTransport)

	req := httptest.NewRequest(http.MethodGet, "/cards/", nil)
	req.Header.Set("Accept", "text/html")

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, req)

	//The bare listing falls through to the generic offline page
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are offline")
}
