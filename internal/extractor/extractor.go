// Package extractor harvests structured content from a page (title, URL,
// tagged visible text items, meta tags, tables) and normalizes it into a
// domain-appropriate schema selected by URL host and description
// keywords, with an optional AI-JSON path that falls back to the local
// normalizer on any parse failure.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// AI is the subset of the AI Client the extractor's optional JSON path
// needs.
type AI interface {
	InvokeText(ctx context.Context, prompt, system string, maxTokens int64) (string, error)
}

// Item is one harvested text element, tagged by its semantic tag name.
type Item struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// Harvest is the raw page scrape before normalization.
type Harvest struct {
	PageTitle string
	URL       string
	Items     []Item
	Meta      map[string]string
	Tables    [][][]string
}

const harvestJS = `() => {
	const seen = new Set();
	const items = [];
	const sel = 'h1,h2,h3,h4,h5,p,li,td,th,span,a,label,article,section,[role=listitem]';
	for (const el of document.querySelectorAll(sel)) {
		if (items.length >= 80) break;
		if (el.offsetParent === null) continue;
		let text = (el.innerText || '').trim();
		if (text.length < 3 || text.length > 800) continue;
		text = text.slice(0, 400);
		if (seen.has(text)) continue;
		seen.add(text);
		const item = { tag: el.tagName.toLowerCase(), text };
		if (el.tagName.toLowerCase() === 'a' && el.href) item.href = el.href;
		items.push(item);
	}

	const meta = {};
	for (const m of document.querySelectorAll('meta[name],meta[property]')) {
		const key = m.getAttribute('name') || m.getAttribute('property');
		const content = m.getAttribute('content');
		if (key && content) meta[key] = content;
	}

	const tables = [];
	for (const table of Array.from(document.querySelectorAll('table')).slice(0, 2)) {
		const rows = [];
		for (const tr of Array.from(table.querySelectorAll('tr')).slice(0, 20)) {
			const cells = Array.from(tr.querySelectorAll('td,th')).map(c => (c.innerText || '').trim().slice(0, 200));
			if (cells.length) rows.push(cells);
		}
		if (rows.length) tables.push(rows);
	}

	return { title: document.title, url: location.href, items, meta, tables };
}`

// HarvestPage runs the raw-content scrape: up to 80 visible deduped text
// items, up to 10 meta tags, and up to 2 tables of at most 20 rows.
func HarvestPage(page playwright.Page) (Harvest, error) {
	raw, err := page.Evaluate(harvestJS)
	if err != nil {
		return Harvest{}, fmt.Errorf("extractor: harvest: %w", err)
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return Harvest{}, fmt.Errorf("extractor: unexpected harvest result type")
	}

	h := Harvest{
		PageTitle: stringField(data, "title"),
		URL:       stringField(data, "url"),
		Meta:      map[string]string{},
	}
	if items, ok := data["items"].([]interface{}); ok {
		for _, raw := range items {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			h.Items = append(h.Items, Item{
				Tag:  stringField(m, "tag"),
				Text: stringField(m, "text"),
				Href: stringField(m, "href"),
			})
		}
	}
	if meta, ok := data["meta"].(map[string]interface{}); ok {
		i := 0
		for k, v := range meta {
			if i >= 10 {
				break
			}
			if s, ok := v.(string); ok {
				h.Meta[k] = s
				i++
			}
		}
	}
	if tables, ok := data["tables"].([]interface{}); ok {
		for _, rawTable := range tables {
			rows, ok := rawTable.([]interface{})
			if !ok {
				continue
			}
			var table [][]string
			for _, rawRow := range rows {
				cells, ok := rawRow.([]interface{})
				if !ok {
					continue
				}
				var row []string
				for _, c := range cells {
					if s, ok := c.(string); ok {
						row = append(row, s)
					}
				}
				table = append(table, row)
			}
			h.Tables = append(h.Tables, table)
		}
	}
	return h, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Extract runs the full pipeline: harvest, then AI-JSON (if ai is
// non-nil and not throttled) falling back to the local normalizer on any
// parse failure, otherwise the local normalizer directly.
func Extract(ctx context.Context, page playwright.Page, description string, ai AI) (map[string]any, error) {
	h, err := HarvestPage(page)
	if err != nil {
		return nil, err
	}

	if ai != nil {
		if result, ok := tryAIExtract(ctx, h, description, ai); ok {
			return result, nil
		}
	}
	return Normalize(h, description), nil
}

func tryAIExtract(ctx context.Context, h Harvest, description string, ai AI) (map[string]any, bool) {
	prompt := buildExtractPrompt(h, description)
	raw, err := ai.InvokeText(ctx, prompt, extractSystemPrompt, 2048)
	if err != nil {
		return nil, false
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	var result map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &result); err != nil {
		return nil, false
	}
	return result, true
}

const extractSystemPrompt = `You extract structured data from harvested page content and must respond
with strict JSON matching one of the documented extraction shapes (search_results, products,
articles, reddit_posts, profiles, or generic). No prose, JSON only.`

func buildExtractPrompt(h Harvest, description string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Page: %s (%s)\nTarget: %s\nHarvested items:\n", h.PageTitle, h.URL, description)
	for _, item := range h.Items {
		fmt.Fprintf(&sb, "- [%s] %s\n", item.Tag, item.Text)
	}
	return sb.String()
}
