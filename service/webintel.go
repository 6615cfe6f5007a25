package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
	readability "github.com/go-shiori/go-readability"
)

// WebIntelService runs the public-web intelligence stage: ranked web
// search on the customer, text-model re-ranking of the top results with a
// rule-based fallback, and one short scraped statement per selected URL.
// The artifact is a JSON document of annotated URLs.
type WebIntelService struct {
	config     *config.SearchConfig
	objects    ObjectAPI
	textModel  *TextModelService
	httpClient *http.Client
}

// SearchResult is one raw web search hit.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// URLStatement is one ranked, annotated URL in the stage artifact.
type URLStatement struct {
	URL           string `json:"url"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	PriorityScore int    `json:"priority_score"`
	Statement     string `json:"statement"`
}

// webIntelArtifact is the persisted stage output.
type webIntelArtifact struct {
	CustomerName  string         `json:"customer_name"`
	Employer      string         `json:"employer"`
	Location      string         `json:"location"`
	Occupation    string         `json:"occupation"`
	URLStatements []URLStatement `json:"url_statements"`
}

// searchResponse is the web search API reply (CSE JSON shape).
type searchResponse struct {
	Items []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// maxSelectedURLs caps the artifact at the five highest-priority URLs.
const maxSelectedURLs = 5

// minSelectedURLs is the floor below which fallback URLs are appended.
const minSelectedURLs = 3

var sentencePattern = regexp.MustCompile(`[.!?]+`)

const rankingPromptTemplate = `You are a KYC analyst selecting the top 5 most relevant URLs for due diligence on %s, employed by %s in %s (%s occupation).
Prioritize URLs in this order:
1. Employer Website: Direct profiles or mentions on %s's website.
2. News Source: Reputable news outlets (e.g., Forbes, Reuters, NYTimes).
3. Financial Statements: Audited by well-known firms (e.g., PwC, Deloitte).
4. Professional License or Certification: From reputable government or associations (e.g., ACAMS, AICPA).
5. Formation Documentation: Filed with government, identifying the customer's role.
6. Employer Verification Letter: With independent callback.
7. External Due Diligence Report: From firms like Kroll, CSIS, LexisNexis.

Input URLs:
%s

Output a JSON list of the top 5 URLs with their assigned type, description, and priority score (1-7, 1 highest). Use the snippet and title to determine relevance. Return only the JSON list.
Example output:
[
    {"url": "https://example.com", "type": "Employer Website", "description": "Profile on employer's site", "priority_score": 1}
]`

func NewWebIntelService(cfg *config.SearchConfig, objects ObjectAPI, textModel *TextModelService) *WebIntelService {
	return &WebIntelService{
		config:    cfg,
		objects:   objects,
		textModel: textModel,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *WebIntelService) Stage() model.Stage {
	return model.StageWebIntel
}

// Run searches, ranks, annotates and persists the URL statements.
func (s *WebIntelService) Run(ctx context.Context, req StageRequest) (model.Locator, error) {
	name := strings.TrimSpace(req.CustomerName)
	employer := strings.TrimSpace(req.Employer)
	location := strings.TrimSpace(req.Location)
	occupation := strings.TrimSpace(req.Occupation)
	if name == "" || employer == "" || location == "" || occupation == "" {
		return model.Locator{}, fmt.Errorf("missing required fields: customer_name, employer, location, occupation")
	}

	var statements []URLStatement
	results, err := s.search(ctx, name, employer, location, occupation)
	if err != nil {
		// Empty search results are absorbed with the fixed fallback set
		slog.Warn("web search returned nothing, using fallback URLs",
			"client_key", req.ClientKey,
			"error", err,
		)
		statements = s.fallbackStatements(ctx, name, employer)
	} else {
		ranked := s.rankResults(ctx, results, name, employer, location, occupation)
		for i := range ranked {
			ranked[i].Statement = s.scrapeStatement(ctx, ranked[i].URL, name)
		}
		if len(ranked) < minSelectedURLs {
			fallback := s.fallbackStatements(ctx, name, employer)
			ranked = append(ranked, fallback[:min(len(fallback), maxSelectedURLs-len(ranked))]...)
		}
		if len(ranked) > maxSelectedURLs {
			ranked = ranked[:maxSelectedURLs]
		}
		statements = ranked
	}

	artifact := webIntelArtifact{
		CustomerName:  name,
		Employer:      employer,
		Location:      location,
		Occupation:    occupation,
		URLStatements: statements,
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return model.Locator{}, fmt.Errorf("failed to encode artifact: %w", err)
	}

	object := fmt.Sprintf("webintel/%s/suggestions.json", req.ClientKey)
	if err := s.objects.PutObject(ctx, s.config.OutputBucket, object, data, "application/json"); err != nil {
		return model.Locator{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	return model.Locator{Bucket: s.config.OutputBucket, Object: object}, nil
}

// search walks the query ladder and returns the first non-empty result
// set. All queries empty maps to ErrEmptySearchResults.
func (s *WebIntelService) search(ctx context.Context, name, employer, location, occupation string) ([]SearchResult, error) {
	baseQuery := name + " " + employer
	queries := []string{
		baseQuery,
		baseQuery + " " + location + " " + occupation,
		name,
	}

	for _, q := range queries {
		results, err := s.searchOnce(ctx, q)
		if err != nil {
			slog.Warn("search query failed", "query", q, "error", err)
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	return nil, ErrEmptySearchResults
}

func (s *WebIntelService) searchOnce(ctx context.Context, q string) ([]SearchResult, error) {
	query := url.Values{}
	query.Set("key", s.config.APIKey)
	query.Set("cx", s.config.EngineID)
	query.Set("q", q)
	query.Set("num", fmt.Sprintf("%d", s.config.MaxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", s.config.APIURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(result.Items))
	for _, item := range result.Items {
		results = append(results, SearchResult{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
		})
	}
	if len(results) > s.config.MaxResults {
		results = results[:s.config.MaxResults]
	}
	return results, nil
}

// rankResults asks the text model to pick the top URLs; a model error or
// unusable ranking falls back to the rule-based selection.
func (s *WebIntelService) rankResults(ctx context.Context, results []SearchResult, name, employer, location, occupation string) []URLStatement {
	input, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return s.ruleBasedRanking(results, name, employer)
	}

	prompt := fmt.Sprintf(rankingPromptTemplate, name, employer, location, occupation, employer, string(input))
	output, err := s.textModel.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("ranking model failed, using rule-based ranking", "error", err)
		return s.ruleBasedRanking(results, name, employer)
	}

	var ranked []URLStatement
	if err := DecodeModelJSON(output, &ranked); err != nil {
		slog.Warn("ranking model output unusable, using rule-based ranking", "error", err)
		return s.ruleBasedRanking(results, name, employer)
	}
	if len(ranked) == 0 {
		return s.ruleBasedRanking(results, name, employer)
	}
	if len(ranked) > maxSelectedURLs {
		ranked = ranked[:maxSelectedURLs]
	}
	return ranked
}

var newsDomains = []string{"forbes.com", "reuters.com", "nytimes.com", "bbc.com", "wsj.com"}

// ruleBasedRanking classifies search hits by the fixed priority rules,
// sorts by ascending priority score and keeps the top five.
func (s *WebIntelService) ruleBasedRanking(results []SearchResult, name, employer string) []URLStatement {
	employerLower := strings.ToLower(employer)
	ranked := make([]URLStatement, 0, len(results))

	for _, item := range results {
		urlLower := strings.ToLower(item.URL)
		titleLower := strings.ToLower(item.Title)
		snippetLower := strings.ToLower(item.Snippet)

		var st URLStatement
		st.URL = item.URL
		switch {
		case strings.Contains(urlLower, employerLower) || strings.Contains(titleLower, employerLower):
			st.Type = "Employer Website"
			st.PriorityScore = 1
			st.Description = fmt.Sprintf("Profile or information about %s on %s's website.", name, employer)
		case containsAny(urlLower, newsDomains):
			st.Type = "News Source"
			st.PriorityScore = 2
			st.Description = fmt.Sprintf("News article about %s or %s.", name, employer)
		case containsAny(titleLower, []string{"financial statement", "annual report", "10-k", "pwc", "deloitte"}) ||
			containsAny(snippetLower, []string{"financial statement", "annual report", "10-k", "pwc", "deloitte"}):
			st.Type = "Financial Statements"
			st.PriorityScore = 3
			st.Description = fmt.Sprintf("Financial statements for %s.", employer)
		case containsAny(titleLower, []string{"license", "certification", "acams", "aicpa"}) ||
			containsAny(snippetLower, []string{"license", "certification", "acams", "aicpa"}):
			st.Type = "Professional License or Certification"
			st.PriorityScore = 4
			st.Description = fmt.Sprintf("Professional license or certification for %s.", name)
		case strings.Contains(urlLower, "opencorporates.com"):
			st.Type = "Formation Documentation"
			st.PriorityScore = 5
			st.Description = fmt.Sprintf("Company records for %s.", employer)
		case containsAny(titleLower, []string{"verification letter", "employment verification"}) ||
			containsAny(snippetLower, []string{"verification letter", "employment verification"}):
			st.Type = "Employer Verification Letter"
			st.PriorityScore = 6
			st.Description = fmt.Sprintf("Employment verification for %s.", name)
		case containsAny(titleLower, []string{"kroll", "csis", "lexisnexis"}) ||
			containsAny(snippetLower, []string{"kroll", "csis", "lexisnexis"}):
			st.Type = "External Due Diligence Report"
			st.PriorityScore = 7
			st.Description = fmt.Sprintf("Due diligence report for %s or %s.", name, employer)
		default:
			st.Type = "News Source"
			st.PriorityScore = 2
			st.Description = fmt.Sprintf("Information related to %s or %s.", name, employer)
		}
		ranked = append(ranked, st)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore < ranked[j].PriorityScore
	})
	if len(ranked) > maxSelectedURLs {
		ranked = ranked[:maxSelectedURLs]
	}
	return ranked
}

// fallbackStatements is the fixed URL set used when search yields nothing.
func (s *WebIntelService) fallbackStatements(ctx context.Context, name, employer string) []URLStatement {
	encodedName := url.QueryEscape(name)
	encodedEmployer := url.QueryEscape(employer)

	reutersURL := "https://www.reuters.com/search/news?blob=" + encodedName
	linkedinURL := "https://www.linkedin.com/search/results/people/?keywords=" + encodedName
	opencorpURL := "https://opencorporates.com/companies?query=" + encodedEmployer

	return []URLStatement{
		{
			URL:           linkedinURL,
			Type:          "Employer Website",
			Description:   fmt.Sprintf("Professional profile search for %s on LinkedIn.", name),
			PriorityScore: 1,
			Statement:     s.scrapeStatement(ctx, linkedinURL, name),
		},
		{
			URL:           reutersURL,
			Type:          "News Source",
			Description:   fmt.Sprintf("News articles about %s from Reuters.", name),
			PriorityScore: 2,
			Statement:     s.scrapeStatement(ctx, reutersURL, name),
		},
		{
			URL:           opencorpURL,
			Type:          "Formation Documentation",
			Description:   fmt.Sprintf("Company records for %s.", employer),
			PriorityScore: 5,
			Statement:     s.scrapeStatement(ctx, opencorpURL, name),
		},
	}
}

// scrapeStatement fetches a page and returns one sentence mentioning the
// customer, capped at 200 characters. Scrape failures degrade to a note
// in the artifact, never a stage failure.
func (s *WebIntelService) scrapeStatement(ctx context.Context, pageURL, name string) string {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return fmt.Sprintf("Error scraping URL: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error scraping URL: %v", err)
	}
	defer resp.Body.Close()

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Sprintf("Error scraping URL: %v", err)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return fmt.Sprintf("Error scraping URL: %v", err)
	}

	nameLower := strings.ToLower(name)
	for _, sentence := range sentencePattern.Split(article.TextContent, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if strings.Contains(strings.ToLower(sentence), nameLower) {
			return truncateStatement(sentence, 200)
		}
	}
	return "No relevant statement found"
}

// truncateStatement caps s at max bytes without splitting a rune.
func truncateStatement(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
