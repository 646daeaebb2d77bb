// Package answer turns ranked transcript results into a grounded chat
// answer with citations and suggested follow-up questions.
package answer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bloxbuddy/wizard/internal/openai"
	"github.com/bloxbuddy/wizard/internal/search"
)

const (
	contextLimit  = 8
	citationLimit = 5
	historyLimit  = 10

	answerTemperature    = 0.7
	answerMaxTokens      = 800
	suggestedTemperature = 0.9
	suggestedMaxTokens   = 150
)

// Response styles. An explicit preference wins; otherwise the style is
// inferred from the video context title.
const (
	StyleDetailed = "detailed"
	StyleConcise  = "concise"
	StyleBeginner = "beginner"
	StyleAdvanced = "advanced"
)

const apologyAnswer = "Sorry, I ran into a problem generating an answer just now. " +
	"Please try asking again in a moment."

var defaultSuggestedQuestions = []string{
	"How do I script my first Roblox game?",
	"What are the basics of Roblox Studio?",
	"How do leaderboards work in Roblox?",
}

// Citation points at the transcript moment an answer drew from.
type Citation struct {
	Title        string  `json:"title"`
	Timestamp    string  `json:"timestamp"`
	VideoURL     string  `json:"video_url"`
	TimestampURL string  `json:"timestamp_url"`
	Relevance    float64 `json:"relevance"`
}

// Turn is one prior message supplied as conversation history.
type Turn struct {
	Role    string
	Content string
}

// Request carries everything one generation needs.
type Request struct {
	Question      string
	Results       []search.Result
	History       []Turn
	ResponseStyle string
	VideoTitle    string
}

// Response is the generated answer plus its supporting material.
type Response struct {
	Answer             string     `json:"answer"`
	Citations          []Citation `json:"citations"`
	SuggestedQuestions []string   `json:"suggested_questions"`
	Degraded           bool       `json:"degraded,omitempty"`
}

// GenerationError marks an LLM completion failure after the retry.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ChatClient is the completion capability the generator consumes.
// *openai.Client satisfies it.
type ChatClient interface {
	ChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (string, *openai.Usage, error)
}

// Generator builds grounded prompts and calls the chat model.
type Generator struct {
	client ChatClient
	model  string
}

func NewGenerator(client ChatClient, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate answers the question grounded in the supplied results. LLM
// failures retry once and then degrade to a fixed apology response, so
// the chat surface never sees a hard error from this path.
func (g *Generator) Generate(ctx context.Context, req Request) Response {
	messages := g.buildMessages(req)

	content, err := g.complete(ctx, messages, answerTemperature, answerMaxTokens)
	if err != nil {
		content, err = g.complete(ctx, messages, answerTemperature, answerMaxTokens)
	}
	if err != nil {
		log.Printf("answer: %v", &GenerationError{Err: err})
		return Response{
			Answer:             apologyAnswer,
			SuggestedQuestions: append([]string(nil), defaultSuggestedQuestions...),
			Degraded:           true,
		}
	}

	return Response{
		Answer:             strings.TrimSpace(content),
		Citations:          ExtractCitations(req.Results, citationLimit),
		SuggestedQuestions: g.suggestQuestions(ctx, req.Question, content),
	}
}

func (g *Generator) complete(ctx context.Context, messages []openai.Message, temperature float64, maxTokens int) (string, error) {
	content, _, err := g.client.ChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	return content, err
}

func (g *Generator) buildMessages(req Request) []openai.Message {
	messages := []openai.Message{
		{Role: "system", Content: BuildSystemPrompt(req)},
	}

	history := req.History
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for _, turn := range history {
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Content})
	}

	messages = append(messages, openai.Message{Role: "user", Content: req.Question})
	return messages
}

// BuildSystemPrompt renders the grounding context. With no results it
// produces a general-guidance prompt instead; that path yields no
// citations but is still a supported answer.
func BuildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are Blox Wizard, an expert Roblox development assistant. ")
	b.WriteString("You answer questions about Roblox game development using transcripts ")
	b.WriteString("from BloxBuddy tutorial videos.\n\n")

	style := InferStyle(req.ResponseStyle, req.VideoTitle)
	b.WriteString(styleInstruction(style))
	b.WriteString("\n\n")

	results := req.Results
	if len(results) > contextLimit {
		results = results[:contextLimit]
	}

	if len(results) == 0 {
		b.WriteString("No matching transcript excerpts were found for this question. ")
		b.WriteString("Give general Roblox development guidance from your own knowledge, ")
		b.WriteString("say that no specific video covers this yet, and do not invent video references.")
		return b.String()
	}

	b.WriteString("Relevant video excerpts:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s at %s]: %s\n\n", r.Title, r.StartTimestamp, r.Text)
	}
	b.WriteString("Ground your answer in these excerpts. When you reference a video, ")
	b.WriteString("name it with its timestamp so the user can jump straight there.")
	return b.String()
}

// InferStyle resolves the response style. An explicit valid preference
// wins; a video title containing "beginner" forces the beginner style.
func InferStyle(preference, videoTitle string) string {
	switch preference {
	case StyleDetailed, StyleConcise, StyleBeginner, StyleAdvanced:
		return preference
	}
	if strings.Contains(strings.ToLower(videoTitle), "beginner") {
		return StyleBeginner
	}
	return StyleDetailed
}

func styleInstruction(style string) string {
	switch style {
	case StyleConcise:
		return "Keep answers short and to the point. Lead with the fix, skip background."
	case StyleBeginner:
		return "The user is new to Roblox development. Explain step by step, define terms, and avoid jargon."
	case StyleAdvanced:
		return "The user is an experienced developer. Be precise and technical, skip basics."
	default:
		return "Give thorough answers with concrete steps and short code examples where they help."
	}
}

// ExtractCitations takes the top results actually shown to the model
// and projects them into citations, at most limit of them.
func ExtractCitations(results []search.Result, limit int) []Citation {
	if len(results) > contextLimit {
		results = results[:contextLimit]
	}
	if len(results) > limit {
		results = results[:limit]
	}

	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, Citation{
			Title:        r.Title,
			Timestamp:    r.StartTimestamp,
			VideoURL:     r.VideoURL,
			TimestampURL: r.TimestampURL,
			Relevance:    r.RelevanceScore,
		})
	}
	return citations
}

// suggestQuestions asks the model for follow-ups; any failure falls
// back to the static list rather than delaying the answer path.
func (g *Generator) suggestQuestions(ctx context.Context, question, answer string) []string {
	prompt := fmt.Sprintf(
		"A user learning Roblox development asked: %q\n\nThey received this answer:\n%s\n\n"+
			"Suggest exactly 3 short follow-up questions they might ask next. "+
			"Return one question per line with no numbering.",
		question, answer)

	content, err := g.complete(ctx, []openai.Message{
		{Role: "system", Content: "You suggest follow-up questions for a Roblox tutoring assistant."},
		{Role: "user", Content: prompt},
	}, suggestedTemperature, suggestedMaxTokens)
	if err != nil {
		return append([]string(nil), defaultSuggestedQuestions...)
	}

	questions := parseQuestionLines(content)
	if len(questions) == 0 {
		return append([]string(nil), defaultSuggestedQuestions...)
	}
	return questions
}

func parseQuestionLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. )")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 3 {
			break
		}
	}
	return out
}
