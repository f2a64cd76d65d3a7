package crawler

// Banner selectors clicked once per browser session.
const (
	ConsentRejectSelector = "#onetrust-reject-all-handler"
	ConsentAcceptSelector = "#onetrust-accept-btn-handler"
	// LanguageBannerSelector is the link in the language warning banner.
	// Clicking it switches the session to the site's default language.
	LanguageBannerSelector = "div[class*='banner_'] a"
)

// DismissBannersJS is a JavaScript function that clicks the consent banner
// (reject first, then accept) and the language banner. It resolves to an
// object decoded into BannerResult.
const DismissBannersJS = `() => {
  const click = (sel) => {
    const el = document.querySelector(sel);
    if (!el) { return false; }
    el.click();
    return true;
  };
  const consent = click("` + ConsentRejectSelector + `") || click("` + ConsentAcceptSelector + `");
  const language = click("` + LanguageBannerSelector + `");
  return { consent, language };
}`

// BannerResult reports which banners DismissBannersJS clicked.
type BannerResult struct {
	Consent  bool `json:"consent"`
	Language bool `json:"language"`
}
