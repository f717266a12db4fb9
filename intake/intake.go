// Package intake resolves raw user input into the core.JobContext that
// grounds a run's prompts. Input is either a posting URL, fetched through
// a core.LinkResolver and stripped to text, or pasted posting text used
// as-is. Structured facts (company, role, location, requirements) are
// extracted with a model JSON prompt; when the reply does not parse, a
// line-oriented heuristic keeps the run going with best-effort facts.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/fetch"
	"github.com/hupe1980/applyforge/internal/util"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/model"
)

const extractSystem = "You extract structured facts from job postings. " +
	"You reply with a single JSON object and nothing else, no prose and no code fences."

const extractPromptTemplate = `Extract the job facts from the posting below.

Reply with one JSON object using exactly these keys:
  "company"      string, the hiring company name
  "role"         string, the advertised job title
  "location"     string, or "" when not stated
  "summary"      string, one or two sentences describing the position
  "requirements" array of short strings, the key requirements

Use "" or [] when the posting does not state a field. Never invent facts.

Posting:
{{.Posting}}`

// Options configures the resolver.
type Options struct {
	// Links fetches posting pages when the input is a URL. Defaults to
	// fetch.NewHTTPResolver().
	Links core.LinkResolver

	// MaxPostingChars caps the posting text carried into prompts and
	// persisted on the session.
	MaxPostingChars int

	// Logger receives resolution diagnostics; defaults to NoOpLogger.
	Logger logging.Logger
}

// Resolver implements core.JobResolver.
type Resolver struct {
	model    model.Model
	links    core.LinkResolver
	maxChars int
	logger   logging.Logger
}

// NewResolver creates a resolver backed by the given model.
func NewResolver(m model.Model, optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Links:           fetch.NewHTTPResolver(),
		MaxPostingChars: 16000,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Resolver{
		model:    m,
		links:    opts.Links,
		maxChars: opts.MaxPostingChars,
		logger:   opts.Logger,
	}
}

// Resolve implements core.JobResolver. URL input is fetched and stripped
// to text; fetch failures propagate as *core.FetchError before any
// session work begins. Model failures during extraction propagate as-is,
// an unparseable reply falls back to heuristics instead of failing.
func (r *Resolver) Resolve(ctx context.Context, rawInput string) (*core.JobContext, error) {
	input := strings.TrimSpace(rawInput)
	if input == "" {
		return nil, fmt.Errorf("empty job input: %w", core.ErrInvalidInput)
	}

	source := core.SourceInline
	posting := input

	if looksLikeURL(input) {
		data, err := r.links.Fetch(ctx, input)
		if err != nil {
			return nil, err
		}
		posting = StripHTML(data)
		if posting == "" {
			return nil, &core.FetchError{URL: input, Err: fmt.Errorf("page contained no readable text")}
		}
		source = input
		r.logger.Debug("fetched posting from %s: %d chars of text", input, len(posting))
	}

	posting = truncate(posting, r.maxChars)

	jc, err := r.extract(ctx, posting)
	if err != nil {
		return nil, err
	}

	jc.Source = source
	jc.Posting = posting

	r.logger.Info("resolved job input to %s", jc.DisplayName())

	return jc, nil
}

func (r *Resolver) extract(ctx context.Context, posting string) (*core.JobContext, error) {
	prompt, err := util.RenderTemplate(extractPromptTemplate, map[string]any{"Posting": posting})
	if err != nil {
		return nil, fmt.Errorf("render extraction prompt: %w", err)
	}

	resp, err := r.model.Generate(ctx, model.Request{System: extractSystem, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	jc, parseErr := parseExtraction(resp.Text)
	if parseErr != nil {
		r.logger.Warn("job extraction reply did not parse, falling back to heuristics: %v", parseErr)
		jc = heuristicContext(posting)
	}

	return jc, nil
}

// looksLikeURL reports whether the input is a single http(s) URL rather
// than pasted posting text that merely mentions one.
func looksLikeURL(s string) bool {
	if strings.ContainsAny(s, " \t\n\r") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// truncate caps posting text at limit bytes, preferring to cut at a line
// boundary and scrubbing any rune split by the cut.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(strings.ToValidUTF8(cut, ""))
}

// parseExtraction pulls the JSON object out of a model reply. Replies
// wrapped in prose or code fences are tolerated by slicing from the
// first "{" to the last "}".
func parseExtraction(reply string) (*core.JobContext, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var ex struct {
		Company      string   `json:"company"`
		Role         string   `json:"role"`
		Location     string   `json:"location"`
		Summary      string   `json:"summary"`
		Requirements []string `json:"requirements"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &ex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction: %w", err)
	}
	if ex.Company == "" && ex.Role == "" {
		return nil, fmt.Errorf("reply carries neither company nor role")
	}

	return &core.JobContext{
		Company:      strings.TrimSpace(ex.Company),
		Role:         strings.TrimSpace(ex.Role),
		Location:     strings.TrimSpace(ex.Location),
		Summary:      strings.TrimSpace(ex.Summary),
		Requirements: cleanList(ex.Requirements),
	}, nil
}

// heuristicContext reads labeled lines ("Company: X"), a
// "<role> at <company>" headline and leading bullet lines. That covers
// the common posting shapes well enough to ground a run when the model
// reply is unusable.
func heuristicContext(posting string) *core.JobContext {
	jc := &core.JobContext{}

	for _, raw := range strings.Split(posting, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case jc.Company == "" && hasLabel(line, "company", "employer"):
			jc.Company = labelValue(line)
		case jc.Role == "" && hasLabel(line, "role", "title", "position"):
			jc.Role = labelValue(line)
		case jc.Location == "" && hasLabel(line, "location"):
			jc.Location = labelValue(line)
		case strings.HasPrefix(line, "- ") && len(jc.Requirements) < 8:
			jc.Requirements = append(jc.Requirements, strings.TrimPrefix(line, "- "))
		case jc.Role == "" && len(line) <= 120:
			if role, company, ok := splitHeadline(line); ok {
				jc.Role = role
				if jc.Company == "" {
					jc.Company = company
				}
			} else {
				jc.Role = line
			}
		}
	}

	return jc
}

// splitHeadline splits "Senior Platform Engineer at Acme" style headlines.
func splitHeadline(line string) (role, company string, ok bool) {
	for _, sep := range []string{" at ", " @ "} {
		if idx := strings.Index(line, sep); idx > 0 {
			role = strings.TrimSpace(line[:idx])
			company = strings.TrimSpace(line[idx+len(sep):])
			if role != "" && company != "" {
				return role, company, true
			}
		}
	}
	return "", "", false
}

func hasLabel(line string, labels ...string) bool {
	lower := strings.ToLower(line)
	for _, label := range labels {
		if strings.HasPrefix(lower, label+":") {
			return true
		}
	}
	return false
}

func labelValue(line string) string {
	_, after, _ := strings.Cut(line, ":")
	return strings.TrimSpace(after)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
