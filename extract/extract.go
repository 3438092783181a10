// Package extract handles fetching and parsing marketplace product pages.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pricedrop-notifier/pkg/tracker"

	"github.com/PuerkitoBio/goquery"
)

// ExtractError indicates a listing URL that could not be turned into a
// structured result: failed redirect resolution, a non-marketplace domain,
// a fetch failure, or a page missing its mandatory fields.
type ExtractError struct {
	URL    string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// IsExtractError checks if an error is an extraction failure.
func IsExtractError(err error) bool {
	var ee *ExtractError
	return errors.As(err, &ee)
}

// marketplaceHostRegex matches the marketplace's country storefronts,
// optionally www-prefixed.
var marketplaceHostRegex = regexp.MustCompile(`^(www\.)?amazon\.[a-z]{2,3}(\.[a-z]{2})?$`)

// Extractor fetches and parses marketplace listings.
type Extractor struct {
	client           *http.Client
	resolver         *http.Client // redirect-following disabled
	logger           *slog.Logger
	shorteners       map[string]bool
	placeholderImage string
}

// New creates a new extractor. The resolver client shares the given
// client's transport but never follows redirects, so shortened-URL targets
// can be read from the Location header.
func New(client *http.Client, logger *slog.Logger, placeholderImage string) *Extractor {
	resolver := &http.Client{
		Transport: client.Transport,
		Timeout:   client.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Extractor{
		client:           client,
		resolver:         resolver,
		logger:           logger,
		placeholderImage: placeholderImage,
		shorteners: map[string]bool{
			"amzn.to": true,
			"amzn.in": true,
			"a.co":    true,
		},
	}
}

// Extract resolves, fetches, and parses a listing URL. It is stateless:
// the result is a pure function of the URL and the bytes the marketplace
// served. Every failure path returns an *ExtractError.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*tracker.Listing, error) {
	pageURL, err := e.resolveURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if !IsMarketplaceURL(pageURL) {
		return nil, &ExtractError{URL: pageURL, Reason: "not a recognized marketplace URL"}
	}

	doc, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, &ExtractError{URL: pageURL, Reason: err.Error()}
	}

	listing, err := parseListing(doc, e.placeholderImage)
	if err != nil {
		return nil, &ExtractError{URL: pageURL, Reason: err.Error()}
	}

	e.logger.Info("Listing extracted",
		"url", pageURL,
		"title", listing.Title,
		"current_price", listing.CurrentPrice,
		"original_price", listing.OriginalPrice)

	return listing, nil
}

// IsMarketplaceURL reports whether the URL belongs to the marketplace the
// extractor understands. Extraction never runs against arbitrary pages.
func IsMarketplaceURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return marketplaceHostRegex.MatchString(strings.ToLower(u.Hostname()))
}

// resolveURL expands a link-shortener URL into its redirect target with a
// single request. Non-shortened URLs pass through untouched.
func (e *Extractor) resolveURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ExtractError{URL: rawURL, Reason: "invalid URL"}
	}
	if !e.shorteners[strings.ToLower(u.Host)] {
		return rawURL, nil
	}

	e.logger.Info("Resolving shortened URL", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", &ExtractError{URL: rawURL, Reason: fmt.Sprintf("create request: %v", err)}
	}
	setBrowserHeaders(req)

	resp, err := e.resolver.Do(req)
	if resp != nil {
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				e.logger.Warn("Failed to close response body", "error", closeErr)
			}
		}()
	}
	// A partial response can ride along with a redirect surfaced as an
	// error, so the Location header is checked on both paths.
	if err != nil && resp == nil {
		return "", &ExtractError{URL: rawURL, Reason: fmt.Sprintf("resolve shortened URL: %v", err)}
	}

	target := resp.Header.Get("Location")
	if target == "" {
		return "", &ExtractError{URL: rawURL, Reason: "shortened URL did not redirect"}
	}

	e.logger.Info("Shortened URL resolved", "url", rawURL, "target", target)
	return target, nil
}

// fetch issues the single page GET. There is no retry here: the scheduled
// tick is the retry mechanism.
func (e *Extractor) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)

	startTime := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	e.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

// setBrowserHeaders sets essential Chrome-like headers to avoid being
// served a bot-block page.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// Note: Don't set Accept-Encoding - let Go's http.Client handle compression automatically
	req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
}

// A strategy extracts one candidate value for a field from a parsed page.
// Strategies run in order; the first non-empty result wins.
type strategy func(doc *goquery.Document) string

var titleStrategies = []strategy{
	selectorText("#productTitle"),
	selectorText("#title"),
	selectorText("span.product-title-word-break"),
	selectorText("h1.a-size-large"),
	metaTitle,
}

var priceStrategies = []strategy{
	selectorText(".a-price:not(.a-text-price) .a-offscreen"),
	selectorText("#priceblock_ourprice"),
	selectorText("#priceblock_dealprice"),
	selectorText("#priceblock_saleprice"),
	selectorText("span.a-price-whole"),
	scriptNumber(`"priceAmount":`),
}

var originalPriceStrategies = []strategy{
	selectorText(".a-price.a-text-price .a-offscreen"),
	selectorText("#priceblock_listprice"),
	selectorText("span.a-text-strike"),
	selectorText(".priceBlockStrikePriceString"),
	scriptNumber(`"basisPrice":`),
}

var imageStrategies = []strategy{
	selectorAttr("#landingImage", "data-old-hires"),
	selectorAttr("#landingImage", "src"),
	selectorAttr("#imgBlkFront", "src"),
	selectorAttr("#ebooksImgBlkFront", "src"),
	selectorAttr("#main-image", "src"),
	dynamicImage,
}

// dynamicImageContainers are the elements scanned for the per-element
// dynamic image attribute when no direct image source matched.
var dynamicImageContainers = []string{
	"#landingImage",
	"#imgBlkFront",
	"#ebooksImgBlkFront",
	".a-dynamic-image",
}

// parseListing extracts all fields from a parsed page. Only a missing
// title or a missing current price fail the attempt; original price and
// image degrade to defaults.
func parseListing(doc *goquery.Document, placeholderImage string) (*tracker.Listing, error) {
	title := firstMatch(doc, titleStrategies)
	if title == "" {
		return nil, errors.New("no product title found")
	}

	price, ok := parsePrice(firstMatch(doc, priceStrategies))
	if !ok {
		return nil, errors.New("no product price found")
	}

	// A missing list price is not a failure: it just means no discount.
	original, ok := parsePrice(firstMatch(doc, originalPriceStrategies))
	if !ok {
		original = price
	}

	image := firstMatch(doc, imageStrategies)
	if image == "" {
		image = placeholderImage
	}

	return &tracker.Listing{
		Title:         title,
		CurrentPrice:  price,
		OriginalPrice: original,
		ImageURL:      image,
	}, nil
}

func firstMatch(doc *goquery.Document, strategies []strategy) string {
	for _, strat := range strategies {
		if v := strat(doc); v != "" {
			return v
		}
	}
	return ""
}

func selectorText(selector string) strategy {
	return func(doc *goquery.Document) string {
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}
}

func selectorAttr(selector, attr string) strategy {
	return func(doc *goquery.Document) string {
		return strings.TrimSpace(doc.Find(selector).First().AttrOr(attr, ""))
	}
}

// metaTitle falls back to page metadata, taking the substring before the
// marketplace's title separator.
func metaTitle(doc *goquery.Document) string {
	raw := strings.TrimSpace(doc.Find("title").First().Text())
	if raw == "" {
		raw = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).First().AttrOr("content", ""))
	}
	if raw == "" {
		raw = strings.TrimSpace(doc.Find(`meta[name="title"]`).First().AttrOr("content", ""))
	}
	for _, sep := range []string{" : ", " | ", " - "} {
		if idx := strings.Index(raw, sep); idx > 0 {
			return raw[:idx]
		}
	}
	return raw
}

// scriptNumber scans embedded script content for an amount following the
// given marker, e.g. `"priceAmount":1299.00`. The full amount text is
// captured, decimals included, so it parses the same way a displayed
// price does.
func scriptNumber(marker string) strategy {
	re := regexp.MustCompile(regexp.QuoteMeta(marker) + `\s*"?([0-9][0-9,]*(?:\.[0-9]+)?)`)
	return func(doc *goquery.Document) string {
		var found string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := re.FindStringSubmatch(s.Text()); m != nil {
				found = m[1]
				return false
			}
			return true
		})
		return found
	}
}

// dynamicImage scans the container set for the dynamic-image attribute,
// whose value is a JSON object keyed by image URL; the first key wins.
func dynamicImage(doc *goquery.Document) string {
	for _, selector := range dynamicImageContainers {
		raw, exists := doc.Find(selector).First().Attr("data-a-dynamic-image")
		if !exists || raw == "" {
			continue
		}
		if u := firstJSONKey(raw); u != "" {
			return u
		}
	}
	return ""
}

// firstJSONKey returns the first key of a JSON object, preserving the
// order the document wrote it in.
func firstJSONKey(raw string) string {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return ""
	}
	tok, err = dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}

// parsePrice strips everything but digits from a displayed amount and
// parses it as integer currency units.
func parsePrice(text string) (int, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, false
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return price, true
}

var nonDigits = regexp.MustCompile(`[^0-9]`)
