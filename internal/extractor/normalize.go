package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceRe   = regexp.MustCompile(`\$[\d,]+(\.\d+)?`)
	ratingRe  = regexp.MustCompile(`(?i)\d(\.\d)?\s*(out of|/)\s*5`)
	reviewsRe = regexp.MustCompile(`(?i)[\d,]+\s*reviews?`)

	subredditRe      = regexp.MustCompile(`r/[A-Za-z0-9_]+`)
	redditScoreRe    = regexp.MustCompile(`(?i)([\d,]+\.?\d*k?)\s*(?:points?|upvotes?)`)
	redditCommentsRe = regexp.MustCompile(`(?i)([\d,]+)\s*comments?`)

	connectionsRe = regexp.MustCompile(`(?i)([\d,]+\+?)\s*connections?`)
	atCompanyRe   = regexp.MustCompile(`(?i)\bat\s+([A-Z][\w&.,'’\-]+(?:\s[A-Z][\w&.,'’\-]+)*)`)
	areaRe        = regexp.MustCompile(`[A-Z][a-zA-Z.]+(?:\s[A-Z][a-zA-Z.]+)*\s(?:Area|Region|Metropolitan Area)`)
)

// parseApproxCount parses a comma-separated or "k"-suffixed integer count
// (e.g. "1,203" or "1.2k") into a plain int, returning 0 on any parse
// failure rather than erroring — the caller only uses this for
// best-effort metadata extraction from harvested text.
func parseApproxCount(s string) int {
	s = strings.ToLower(strings.ReplaceAll(s, ",", ""))
	multiplier := 1.0
	if strings.HasSuffix(s, "k") {
		multiplier = 1000
		s = strings.TrimSuffix(s, "k")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * multiplier)
}

// stripMatches removes every match of each regexp from text and collapses
// the resulting whitespace, used to clean a title once its embedded
// metadata (subreddit, score, comment count, ...) has been pulled out.
func stripMatches(text string, res ...*regexp.Regexp) string {
	for _, re := range res {
		text = re.ReplaceAllString(text, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// searchHosts / shoppingHosts / newsHosts are the known-host lists the
// normalizer checks before falling back to description keywords.
var searchHosts = []string{"google.", "bing.com", "duckduckgo.com"}
var shoppingHosts = []string{"amazon.", "ebay.", "etsy.", "walmart.com"}
var newsHosts = []string{"news.", "cnn.com", "bbc.", "reuters.com", "nytimes.com"}

// Normalize shapes a raw Harvest into one of the domain schemas
// (search_results, products, articles, reddit_posts, profiles), selected
// by URL host and description keywords, or the generic shape otherwise.
func Normalize(h Harvest, description string) map[string]any {
	host := hostOf(h.URL)
	desc := strings.ToLower(description)

	switch {
	case hasAny(host, searchHosts) || strings.Contains(desc, "search result"):
		return normalizeSearchResults(h)
	case hasAny(host, shoppingHosts) || strings.Contains(desc, "price") || strings.Contains(desc, "product"):
		return normalizeProducts(h)
	case hasAny(host, newsHosts) || strings.Contains(desc, "news") || strings.Contains(desc, "article"):
		return normalizeArticles(h)
	case strings.Contains(host, "reddit.com"):
		return normalizeRedditPosts(h)
	case strings.Contains(host, "linkedin.com") || strings.Contains(desc, "profile") || strings.Contains(desc, "lead"):
		return normalizeProfiles(h)
	default:
		return normalizeGeneric(h, desc)
	}
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexAny(rawURL, "/?"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.ToLower(rawURL)
}

func hasAny(host string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(host, c) {
			return true
		}
	}
	return false
}

func normalizeSearchResults(h Harvest) map[string]any {
	var results []map[string]any
	for _, item := range h.Items {
		if item.Tag != "a" || item.Href == "" {
			continue
		}
		results = append(results, map[string]any{
			"title":   item.Text,
			"url":     item.Href,
			"snippet": "",
		})
	}
	return map[string]any{
		"results":       results,
		"total_results": len(results),
		"page_title":    h.PageTitle,
	}
}

func normalizeProducts(h Harvest) map[string]any {
	var products []map[string]any
	for _, item := range h.Items {
		price := priceRe.FindString(item.Text)
		if price == "" {
			continue
		}
		p := map[string]any{"name": item.Text, "price": price}
		if rating := ratingRe.FindString(item.Text); rating != "" {
			p["rating"] = rating
		}
		if reviews := reviewsRe.FindString(item.Text); reviews != "" {
			p["reviews"] = reviews
		}
		products = append(products, p)
	}
	return map[string]any{
		"products":    products,
		"total_found": len(products),
		"source":      hostOf(h.URL),
	}
}

func normalizeArticles(h Harvest) map[string]any {
	var articles []map[string]any
	for _, item := range h.Items {
		if item.Tag != "a" && item.Tag != "h1" && item.Tag != "h2" && item.Tag != "h3" {
			continue
		}
		articles = append(articles, map[string]any{
			"title":  item.Text,
			"source": hostOf(h.URL),
			"url":    item.Href,
		})
	}
	return map[string]any{
		"articles":      articles,
		"total_results": len(articles),
		"page_title":    h.PageTitle,
	}
}

// normalizeRedditPosts parses subreddit, score, and comment count out of
// each candidate item's harvested text via regex (the same
// harvest-a-block-of-text-then-regex-it approach normalizeProducts uses
// for price/rating/reviews), rather than emitting the shape's key names
// with permanent placeholder values.
func normalizeRedditPosts(h Harvest) map[string]any {
	var posts []map[string]any
	for _, item := range h.Items {
		if item.Tag != "a" && item.Tag != "li" && item.Tag != "article" && item.Tag != "section" {
			continue
		}
		text := item.Text
		subreddit := subredditRe.FindString(text)
		score := 0
		if m := redditScoreRe.FindStringSubmatch(text); len(m) > 1 {
			score = parseApproxCount(m[1])
		}
		comments := 0
		if m := redditCommentsRe.FindStringSubmatch(text); len(m) > 1 {
			comments = parseApproxCount(m[1])
		}
		title := stripMatches(text, subredditRe, redditScoreRe, redditCommentsRe)
		if title == "" {
			title = text
		}
		posts = append(posts, map[string]any{
			"title":     title,
			"subreddit": subreddit,
			"score":     score,
			"comments":  comments,
		})
	}
	return map[string]any{
		"posts":         posts,
		"total_results": len(posts),
	}
}

// normalizeProfiles parses title/company from an "X at Company" pattern,
// location from a trailing "<City> Area/Region" pattern, and a
// connections count, all out of the harvested text via regex, rather than
// emitting the shape's key names with permanent placeholder values.
func normalizeProfiles(h Harvest) map[string]any {
	var profiles []map[string]any
	for _, item := range h.Items {
		if item.Tag != "span" && item.Tag != "a" && item.Tag != "li" {
			continue
		}
		text := item.Text

		title, company := "", ""
		if m := atCompanyRe.FindStringSubmatch(text); len(m) > 1 {
			company = strings.TrimSpace(m[1])
			if idx := strings.Index(text, m[0]); idx > 0 {
				title = strings.TrimSpace(text[:idx])
			}
		}
		location := areaRe.FindString(text)
		connections := ""
		if m := connectionsRe.FindStringSubmatch(text); len(m) > 1 {
			connections = m[1]
		}

		profiles = append(profiles, map[string]any{
			"name":        text,
			"title":       title,
			"company":     company,
			"location":    location,
			"connections": connections,
		})
	}
	return map[string]any{"profiles": profiles}
}

// genericSection classifies a harvested item into an intent bucket
// (invoice, email, form, dashboard, company, or plain content) for the
// generic shape's section headings.
func genericSection(item Item) string {
	lower := strings.ToLower(item.Text)
	switch {
	case strings.Contains(lower, "invoice") || strings.Contains(lower, "payment"):
		return "invoice"
	case strings.Contains(lower, "inbox") || strings.Contains(lower, "email") || strings.Contains(lower, "@"):
		return "email"
	case item.Tag == "label" || strings.Contains(lower, "confirm"):
		return "form"
	case strings.Contains(lower, "metric") || strings.Contains(lower, "dashboard"):
		return "dashboard"
	case strings.Contains(lower, "about") || strings.Contains(lower, "company"):
		return "company"
	default:
		return "content"
	}
}

func normalizeGeneric(h Harvest, description string) map[string]any {
	sections := map[string][]map[string]any{}
	order := []string{"content"}
	for _, item := range h.Items {
		section := genericSection(item)
		if _, ok := sections[section]; !ok {
			order = append(order, section)
		}
		entry := map[string]any{"text": item.Text}
		if item.Href != "" {
			entry["link"] = item.Href
		}
		sections[section] = append(sections[section], entry)
	}

	var out []map[string]any
	seen := map[string]bool{}
	for _, heading := range order {
		if seen[heading] {
			continue
		}
		seen[heading] = true
		items, ok := sections[heading]
		if !ok {
			continue
		}
		out = append(out, map[string]any{"heading": heading, "items": items})
	}

	result := map[string]any{
		"page_title":      h.PageTitle,
		"source":          hostOf(h.URL),
		"sections":        out,
		"items_extracted": len(h.Items),
	}
	if len(h.Tables) > 0 {
		result["tables"] = h.Tables
	}
	return result
}
