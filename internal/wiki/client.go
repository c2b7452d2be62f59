// Package wiki summarizes encyclopedia topics through the MediaWiki
// action API. It never guesses: disambiguation pages yield
// [ErrAmbiguous] and missing pages yield [ErrNotFound].
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nugget/dazzy/internal/htmltext"
	"github.com/nugget/dazzy/internal/httpkit"
	"github.com/nugget/dazzy/internal/intent"
)

// Lookup outcomes that are answers rather than failures.
var (
	ErrAmbiguous = errors.New("topic is ambiguous")
	ErrNotFound  = errors.New("no page found")
)

// Client queries one MediaWiki installation.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// New returns a client for the api.php endpoint at endpoint.
func New(endpoint string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, http: httpClient, logger: logger.With("component", "wiki")}
}

type queryResponse struct {
	Query struct {
		Pages []page `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

type page struct {
	Title     string            `json:"title"`
	Missing   bool              `json:"missing"`
	Invalid   bool              `json:"invalid"`
	Extract   string            `json:"extract"`
	PageProps map[string]string `json:"pageprops"`
}

// Summarize returns the first maxSentences sentences of the topic's
// introduction as plain text. Transport failures are wrapped in an
// [intent.UnavailableError].
func (c *Client) Summarize(ctx context.Context, topic string, maxSentences int) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrNotFound
	}
	if maxSentences <= 0 {
		maxSentences = 2
	}

	var lastErr error
	for _, title := range candidates(topic) {
		summary, err := c.summarize(ctx, title, maxSentences)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return summary, err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) summarize(ctx context.Context, title string, sentences int) (string, error) {
	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"prop":          {"extracts|pageprops"},
		"ppprop":        {"disambiguation"},
		"exintro":       {"1"},
		"exsentences":   {strconv.Itoa(sentences)},
		"redirects":     {"1"},
		"titles":        {title},
	}

	var resp queryResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, resp.Error.Info)
	}
	if len(resp.Query.Pages) == 0 {
		return "", ErrNotFound
	}

	p := resp.Query.Pages[0]
	if p.Missing || p.Invalid {
		return "", fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	if _, ok := p.PageProps["disambiguation"]; ok {
		return "", fmt.Errorf("%w: %q", ErrAmbiguous, p.Title)
	}

	text := strings.ReplaceAll(htmltext.Text(p.Extract), "\n", " ")
	if text == "" {
		return "", fmt.Errorf("%w: %q has no extract", ErrNotFound, p.Title)
	}
	c.logger.Debug("encyclopedia summary", "title", p.Title, "chars", len(text))
	return text, nil
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	var resp map[string]any
	return c.get(ctx, url.Values{
		"action": {"query"},
		"meta":   {"siteinfo"},
		"format": {"json"},
	}, &resp)
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &intent.UnavailableError{Collaborator: "encyclopedia", Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := httpkit.CheckResponse(resp); err != nil {
		return &intent.UnavailableError{Collaborator: "encyclopedia", Err: err}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &intent.UnavailableError{Collaborator: "encyclopedia", Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// candidates returns the topic as given and, if different, with each
// word capitalised. Normalized input is lower case, and many article
// titles are proper nouns without a lower-case redirect.
func candidates(topic string) []string {
	words := strings.Fields(topic)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	titled := strings.Join(words, " ")
	if titled == topic {
		return []string{topic}
	}
	return []string{topic, titled}
}
