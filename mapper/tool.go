package mapper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tbxark/jobfill/structured"
	"github.com/tbxark/jobfill/types"
)

// Suggestion is the model's pick for one field. An empty Path means no match.
type Suggestion struct {
	Path       string  `json:"path" jsonschema:"description=Dotted profile path that answers the field or empty when none fits"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1,description=How sure the match is"`
}

// Suggester proposes a profile path for a field no rule tier could place.
// profile holds only non-empty candidate paths.
type Suggester interface {
	Suggest(ctx context.Context, field types.FormField, profile types.FlatProfile) (*Suggestion, error)
}

const (
	suggestPathToolName        = "suggest_profile_path"
	suggestPathToolDescription = "Pick the profile path whose value answers the form field."
)

// DefaultSuggestSystemPromptTemplate may contain a single "%s" placeholder for the tool name.
const DefaultSuggestSystemPromptTemplate = `
You help fill job application forms from a stored candidate profile.

You receive one form field and a table of profile paths with their values.
Choose the single path whose value is the correct answer for the field.
Only choose a path listed in the table. If none fits, return an empty path with confidence 0.
Do not guess: a path that merely shares a word with the label is not a match.

Call the '%s' tool with the result.
`

type suggestInput struct {
	Field   types.FormField
	Profile types.FlatProfile
}

type suggesterOptions struct {
	systemPromptTemplate string
	cacheSize            int
}

type SuggesterOption func(*suggesterOptions)

func WithSuggestSystemPromptTemplate(tmpl string) SuggesterOption {
	return func(o *suggesterOptions) {
		o.systemPromptTemplate = tmpl
	}
}

func WithCacheSize(size int) SuggesterOption {
	return func(o *suggesterOptions) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// ToolBasedSuggester asks a chat model at temperature zero and caches every
// decision by normalized input, so a field and profile pair always yields the
// same answer within a process.
type ToolBasedSuggester struct {
	chain *structured.Chain[suggestInput, Suggestion]
	cache *lru.Cache[string, Suggestion]
}

func NewToolBasedSuggester(chatModel model.ToolCallingChatModel, opts ...SuggesterOption) (*ToolBasedSuggester, error) {
	o := suggesterOptions{
		systemPromptTemplate: DefaultSuggestSystemPromptTemplate,
		cacheSize:            256,
	}
	for _, opt := range opts {
		opt(&o)
	}
	systemPrompt := fmt.Sprintf(o.systemPromptTemplate, suggestPathToolName)
	chain, err := structured.NewChain[suggestInput, Suggestion](
		chatModel,
		func(ctx context.Context, in suggestInput) ([]*schema.Message, error) {
			return []*schema.Message{
				schema.SystemMessage(systemPrompt),
				schema.UserMessage(types.FormatField(in.Field) + "\n" + types.FormatCandidates(in.Profile)),
			}, nil
		},
		suggestPathToolName,
		suggestPathToolDescription,
		structured.WithModelOptions(model.WithTemperature(0)),
	)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, Suggestion](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create suggestion cache failed: %w", err)
	}
	return &ToolBasedSuggester{chain: chain, cache: cache}, nil
}

func (s *ToolBasedSuggester) Suggest(ctx context.Context, field types.FormField, profile types.FlatProfile) (*Suggestion, error) {
	key := cacheKey(field, profile)
	if cached, ok := s.cache.Get(key); ok {
		return &cached, nil
	}
	result, err := s.chain.Invoke(ctx, suggestInput{Field: field, Profile: profile})
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, *result)
	return result, nil
}

func cacheKey(field types.FormField, profile types.FlatProfile) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", Normalize(field.Label), Normalize(field.ID), field.HTMLType)
	for _, opt := range field.Options {
		fmt.Fprintf(h, "%s\x01", Normalize(opt))
	}
	for _, path := range profile.Paths() {
		value, _ := profile.Lookup(path)
		fmt.Fprintf(h, "%s=%s\x00", path, strings.TrimSpace(value))
	}
	return hex.EncodeToString(h.Sum(nil))
}
