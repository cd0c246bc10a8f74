package capture

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Consent layer names, also used as metric labels and script markers.
const (
	LayerContainerScan = "container-scan"
	LayerContainerWait = "container-wait"
	LayerTextSearch    = "text-search"
	LayerAriaLabel     = "aria-label"
	LayerSelector      = "selector"
	LayerIframe        = "iframe"
	LayerRemoval       = "removal"
)

// AcceptTexts are button captions that accept or close a consent banner.
var AcceptTexts = []string{
	"Accept", "Akceptuję", "Akceptuje", "Zgadzam się", "Zgoda", "OK", "Agree",
	"I agree", "Accept all", "Accept cookies", "Akceptuję wszystkie",
	"Zaakceptuj", "Got it", "Rozumiem", "Zamknij", "Tylko niezbędne",
	"W porządku", "Niezbędne", "Necessary only", "Only necessary",
	"Save settings", "Zapisz ustawienia", "Dbamy o twoja Prywatnosc",
	"Akceptuję cookies", "Wyrażam zgodę", "Zgadzam się na cookies",
}

// AcceptSelectors target accept buttons of common consent frameworks.
var AcceptSelectors = []string{
	"#cookieConsent .accept", "#gdpr-consent-accept", "#onetrust-accept-btn-handler",
	"#consent_prompt_submit", "#accept-cookies", "#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#cookies-accept-all", "#rodo-accept", "#privacy-policy-accept", "#cookiePolicyOK",
	"#cookies-accept", "#cookie-accept-all", "#cookie-consent-accept", "#akceptuje",
	"#akceptuj-cookies", "#cookie-agreement-accept", "#cookies-agree", "#accept-all-cookies",

	".cookie-consent__accept", ".cookie-accept", ".consent-accept", ".cc-accept",
	".agree-button", ".accept-cookies", ".accept_gdpr", ".privacy-policy-agree",
	".cookie-law-button", ".cookie-accept-button", ".cookies-agreement-button",
	".cookie-message__button", ".cookie-notice-accept", ".cookie-info__button",
	".cookie-btn-accept", ".cookies-btn-accept", ".cookie-notice__agree",
	".cookie-consent-button", ".cookie-consent__button", ".cookie-notice-button",
}

// BannerSelectors match consent banner containers.
var BannerSelectors = []string{
	".cookie-notice", ".cookies-popup", ".cookies-alert", ".cookie-info",
	".cookie-message", ".cookie-bar", ".cookie-compliance", ".rodo-popup",
	"#cookieInfo", "#cookieNotice", "#cookiesInfo", "#cookieBanner",
	"#cookieConsent", "#cookies-notice", "#cookies-alert", "#rodo-alert",
	".rodo-message", ".gdpr-cookie", ".cookie-law",
}

// extraRemovalSelectors are only used by the removal layer.
var extraRemovalSelectors = []string{
	"#onetrust-banner-sdk", "#onetrust-consent-sdk", "#CybotCookiebotDialog",
	".cc-window", "#cookie-law-info-bar", ".cookie-consent",
}

// AcceptAriaLabels are accessible names of accept controls.
var AcceptAriaLabels = []string{
	"accept cookies", "akceptuj cookies", "akceptuję", "accept all cookies",
	"zaakceptuj wszystkie", "zgadzam się",
}

// consentFrameHints mark iframes that likely host a consent dialog.
var consentFrameHints = []string{"cookie", "consent", "privacy", "rodo"}

// overlayHints mark fixed overlays that are consent related.
var overlayHints = []string{"cookie", "privacy", "gdpr", "rodo", "prywatno", "ciasteczk"}

// jsHelpers are shared by all layer scripts.
const jsHelpers = `
const visible = (el) => {
  if (!el || !el.isConnected) return false;
  const s = window.getComputedStyle(el);
  if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') return false;
  const r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
};
const label = (el) => ((el.innerText || el.value || el.textContent || '') + '').trim().toLowerCase();
const ownText = (el) => Array.from(el.childNodes)
  .filter((n) => n.nodeType === Node.TEXT_NODE)
  .map((n) => n.textContent).join(' ').trim().toLowerCase();
const matches = (text, word) => {
  if (!text) return false;
  if (word.length <= 3) {
    return new RegExp('(^|[^\\p{L}])' + word + '([^\\p{L}]|$)', 'u').test(text);
  }
  return text.includes(word);
};
const clickable = 'button, a, [role="button"], input[type="button"], input[type="submit"]';
const press = (el) => { try { el.click(); return true; } catch (e) { return false; } };
`

func jsList(values []string, lower bool) string {
	out := values
	if lower {
		out = make([]string, len(values))
		for i, v := range values {
			out[i] = strings.ToLower(v)
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func layerScript(layer, body string) string {
	return fmt.Sprintf("/* consent:%s */ (() => {%s\n%s\n})()", layer, jsHelpers, body)
}

// containerScanScript clicks an accept control inside a visible banner. With
// hideFallback, a visible banner without a labeled control is detached.
func containerScanScript(layer string, hideFallback bool) string {
	body := fmt.Sprintf(`
const banners = %s;
const words = %s;
let fallback = null;
for (const sel of banners) {
  let container;
  try { container = document.querySelector(sel); } catch (e) { continue; }
  if (!visible(container)) continue;
  if (!fallback) fallback = container;
  const candidates = Array.from(container.querySelectorAll(clickable))
    .concat(Array.from(container.querySelectorAll('span, div')));
  for (const el of candidates) {
    if (!visible(el)) continue;
    const text = label(el);
    if (words.some((w) => matches(text, w)) && press(el)) return true;
  }
}
if (%t && fallback) {
  fallback.style.setProperty('display', 'none', 'important');
  fallback.remove();
  return true;
}
return false;`, jsList(BannerSelectors, false), jsList(AcceptTexts, true), hideFallback)
	return layerScript(layer, body)
}

// textSearchScript clicks the first visible element whose own text contains
// an accept word, trying words in list order.
func textSearchScript(layer string) string {
	body := fmt.Sprintf(`
const words = %s;
const elements = Array.from(document.querySelectorAll('button, a, div, span, input'));
for (const w of words) {
  for (const el of elements) {
    const text = el.tagName === 'INPUT' ? ((el.value || '') + '').toLowerCase() : ownText(el);
    if (!matches(text, w) || !visible(el)) continue;
    if (press(el)) return true;
  }
}
return false;`, jsList(AcceptTexts, true))
	return layerScript(layer, body)
}

func ariaLabelScript() string {
	body := fmt.Sprintf(`
const labels = %s;
for (const el of Array.from(document.querySelectorAll('[aria-label]'))) {
  const value = (el.getAttribute('aria-label') || '').trim().toLowerCase();
  if (!labels.includes(value) || !visible(el)) continue;
  if (press(el)) return true;
}
return false;`, jsList(AcceptAriaLabels, true))
	return layerScript(LayerAriaLabel, body)
}

func selectorScript() string {
	body := fmt.Sprintf(`
const selectors = %s;
for (const sel of selectors) {
  let found;
  try { found = document.querySelectorAll(sel); } catch (e) { continue; }
  for (const el of Array.from(found)) {
    if (visible(el) && press(el)) return true;
  }
}
return false;`, jsList(AcceptSelectors, false))
	return layerScript(LayerSelector, body)
}

func removalScript() string {
	selectors := append(append([]string{}, BannerSelectors...), extraRemovalSelectors...)
	body := fmt.Sprintf(`
const selectors = %s;
const hints = %s;
let removed = 0;
for (const sel of selectors) {
  let found;
  try { found = document.querySelectorAll(sel); } catch (e) { continue; }
  for (const el of Array.from(found)) { el.remove(); removed++; }
}
for (const el of Array.from(document.querySelectorAll('body *'))) {
  if (!el.isConnected) continue;
  const s = window.getComputedStyle(el);
  if (s.position !== 'fixed' && s.position !== 'sticky') continue;
  const text = (el.textContent || '').toLowerCase();
  if (hints.some((h) => text.includes(h))) { el.remove(); removed++; }
}
for (const root of [document.documentElement, document.body]) {
  if (!root) continue;
  root.style.removeProperty('overflow');
  root.style.removeProperty('position');
  root.classList.remove('modal-open', 'no-scroll', 'noscroll');
}
return removed > 0;`, jsList(selectors, false), jsList(overlayHints, false))
	return layerScript(LayerRemoval, body)
}
