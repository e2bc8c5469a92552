package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/souschef/souschef/internal/anthropic"
	"github.com/souschef/souschef/internal/extract"
	"github.com/souschef/souschef/internal/profile"
	"github.com/souschef/souschef/internal/storage"
)

const (
	// maxFetchBytes bounds how much of a recipe page we read.
	maxFetchBytes = 100_000
	// maxSourceChars bounds the extracted text sent to the model.
	maxSourceChars  = 50_000
	importMaxTokens = 2000
	fetchTimeout    = 15 * time.Second

	importUserAgent = "Mozilla/5.0 (compatible; SousChef/1.0)"
)

// ErrNoRecipe is returned when the source content contains no recipe.
var ErrNoRecipe = errors.New("no recipe found")

const importInstructions = `Extract the recipe from this content. Return ONLY valid JSON with this exact structure, no other text:
{
  "title": "Recipe Title",
  "description": "Brief one-sentence description",
  "prepTime": "X mins",
  "cookTime": "Y mins",
  "servings": "Z",
  "ingredients": [
    {"amount": "1 cup", "item": "flour"}
  ],
  "steps": [
    {"number": 1, "instruction": "Step text here"}
  ]
}

If you cannot find a recipe in the content, return exactly: {"error": "no recipe found"}`

// Completer is the LLM completion dependency.
type Completer interface {
	Complete(ctx context.Context, req anthropic.Request) (string, error)
}

// Imported is the structured recipe the extraction model returns.
type Imported struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PrepTime    string `json:"prepTime"`
	CookTime    string `json:"cookTime"`
	Servings    string `json:"servings"`
	Ingredients []struct {
		Amount string `json:"amount"`
		Item   string `json:"item"`
	} `json:"ingredients"`
	Steps []struct {
		Number      int    `json:"number"`
		Instruction string `json:"instruction"`
	} `json:"steps"`
	Error string `json:"error"`
}

// Importer pulls recipes out of web pages and PDFs and saves them.
type Importer struct {
	llm      Completer
	svc      *Service
	profiles *profile.Manager
	model    string
	client   *http.Client
}

// NewImporter creates an Importer.
func NewImporter(llm Completer, svc *Service, profiles *profile.Manager, model string) *Importer {
	return &Importer{
		llm:      llm,
		svc:      svc,
		profiles: profiles,
		model:    model,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// ImportURL fetches a recipe page, extracts the recipe with the LLM, and
// saves it. Returns ErrNoRecipe when the page has no recipe.
func (i *Importer) ImportURL(ctx context.Context, url string) (storage.Recipe, error) {
	page, err := i.fetchPage(ctx, url)
	if err != nil {
		return storage.Recipe{}, err
	}

	imp, err := i.extractRecipe(ctx, pageText(page))
	if err != nil {
		return storage.Recipe{}, err
	}
	return i.saveImported(imp, "url")
}

// ImportPDF extracts a recipe from PDF bytes and saves it. Returns
// ErrNoRecipe when the document has no recipe.
func (i *Importer) ImportPDF(ctx context.Context, data []byte) (storage.Recipe, error) {
	text, err := pdfText(data)
	if err != nil {
		return storage.Recipe{}, fmt.Errorf("reading pdf: %w", err)
	}

	imp, err := i.extractRecipe(ctx, text)
	if err != nil {
		return storage.Recipe{}, err
	}
	return i.saveImported(imp, "pdf")
}

func (i *Importer) fetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", importUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

func (i *Importer) extractRecipe(ctx context.Context, source string) (Imported, error) {
	if strings.TrimSpace(source) == "" {
		return Imported{}, ErrNoRecipe
	}
	if len(source) > maxSourceChars {
		source = source[:maxSourceChars]
	}

	prompt := importInstructions
	if suffix := i.profiles.PromptSuffix(); suffix != "" {
		prompt += "\n\n" + suffix
	}
	prompt += "\n\nContent:\n" + source

	resp, err := i.llm.Complete(ctx, anthropic.Request{
		Model:     i.model,
		MaxTokens: importMaxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Imported{}, fmt.Errorf("extracting recipe: %w", err)
	}

	span, ok := extract.FirstJSONObject(resp)
	if !ok {
		return Imported{}, fmt.Errorf("no JSON in extraction response")
	}
	var imp Imported
	if err := json.Unmarshal([]byte(span), &imp); err != nil {
		return Imported{}, fmt.Errorf("parsing extraction response: %w", err)
	}
	if imp.Error != "" || imp.Title == "" {
		return Imported{}, ErrNoRecipe
	}
	return imp, nil
}

func (i *Importer) saveImported(imp Imported, source string) (storage.Recipe, error) {
	return i.svc.Save(storage.Recipe{
		Title:      imp.Title,
		PinnedText: imp.Text(),
		Source:     source,
	})
}

// Text renders the structured recipe as the plain text that gets pinned,
// shown in cook mode, and fed to metadata extraction.
func (imp Imported) Text() string {
	var sb strings.Builder
	sb.WriteString("# " + imp.Title + "\n")
	if imp.Description != "" {
		sb.WriteString(imp.Description + "\n")
	}
	if imp.PrepTime != "" || imp.CookTime != "" || imp.Servings != "" {
		sb.WriteString("\n")
		if imp.PrepTime != "" {
			fmt.Fprintf(&sb, "Prep: %s\n", imp.PrepTime)
		}
		if imp.CookTime != "" {
			fmt.Fprintf(&sb, "Cook: %s\n", imp.CookTime)
		}
		if imp.Servings != "" {
			fmt.Fprintf(&sb, "Serves: %s\n", imp.Servings)
		}
	}
	if len(imp.Ingredients) > 0 {
		sb.WriteString("\n## Ingredients\n")
		for _, ing := range imp.Ingredients {
			line := strings.TrimSpace(ing.Amount + " " + ing.Item)
			sb.WriteString("- " + line + "\n")
		}
	}
	if len(imp.Steps) > 0 {
		sb.WriteString("\n## Steps\n")
		for n, st := range imp.Steps {
			num := st.Number
			if num == 0 {
				num = n + 1
			}
			fmt.Fprintf(&sb, "%d. %s\n", num, st.Instruction)
		}
	}
	return sb.String()
}

// pageText strips markup from an HTML page, skipping script and style
// content, and collapses the remaining text.
func pageText(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		// Fall back to the raw bytes; the model copes with markup.
		return string(page)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// pdfText extracts the plain text from PDF bytes.
func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(io.LimitReader(reader, maxSourceChars))
	if err != nil {
		return "", err
	}
	return string(text), nil
}
