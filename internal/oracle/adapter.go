package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"feedpilot/internal/logging"
	"feedpilot/internal/retry"
)

// DecisionKind is the closed set of actions the oracle may choose.
type DecisionKind string

const (
	KindNote    DecisionKind = "note"    // relevant, log only
	KindLike    DecisionKind = "like"    // like the item
	KindReply   DecisionKind = "reply"   // reply with generated text
	KindExplore DecisionKind = "explore" // expand the conversation thread
)

// ParseKind maps a raw decision string to a DecisionKind.
func ParseKind(s string) (DecisionKind, bool) {
	switch DecisionKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindNote:
		return KindNote, true
	case KindLike:
		return KindLike, true
	case KindReply:
		return KindReply, true
	case KindExplore:
		return KindExplore, true
	default:
		return "", false
	}
}

// Decision is the oracle's validated verdict for one item. Confidence is
// coerced to float but deliberately not clamped; callers apply thresholds.
type Decision struct {
	Kind       DecisionKind
	ReplyText  string
	Confidence float64
	Rationale  string
}

const systemInstruction = `You are a social media analysis agent that decides on actions for feed posts.

Given a post's text, analyze it and decide on one of these actions:

1. "note" - The post is relevant/valuable but no immediate action is needed
2. "like" - The post is valuable and should be liked
3. "reply" - Reply to the post with a helpful, positive comment
4. "explore" - The post hints at a valuable conversation; explore the replies

Guidelines:
- Be selective with "like" - only for truly valuable content
- Use "reply" sparingly - only when you can add genuine value
- "explore" for posts that seem to have interesting discussions
- Keep replies concise, positive, and relevant

Output your decision as a JSON object with these exact keys:
{
    "decision": "note|like|reply|explore",
    "comment": "your reply text (empty string if not replying)",
    "confidence": 0.0-1.0,
    "reasoning": "brief explanation of your decision"
}

Do not include any text outside the JSON object.`

// Adapter turns raw oracle output into typed decisions.
type Adapter struct {
	client      Client
	retryPolicy retry.Policy
}

// NewAdapter creates a decision adapter over the given LLM client.
func NewAdapter(client Client) *Adapter {
	return &Adapter{client: client, retryPolicy: retry.DefaultPolicy()}
}

// Decide asks the oracle for a decision on the item text. Returns nil (not
// a default decision) when the oracle produces no output or output that
// fails validation. A non-nil error means the oracle itself was
// unreachable after retries.
func (a *Adapter) Decide(ctx context.Context, itemText, relevanceContext string, extra map[string]string) (*Decision, error) {
	prompt := buildPrompt(itemText, relevanceContext, extra)

	var raw string
	err := retry.Do(ctx, a.retryPolicy, "oracle", func() error {
		var callErr error
		raw, callErr = a.client.CompleteWithSystem(ctx, systemInstruction, prompt)
		if callErr != nil && !IsTransient(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("oracle call failed: %w", err)
	}

	decision := parseDecision(raw)
	if decision == nil {
		logging.Get(logging.CategoryDecider).Warn("oracle output rejected: %s", truncate(raw, 160))
		return nil, nil
	}
	logging.DeciderDebug("decision=%s confidence=%.2f", decision.Kind, decision.Confidence)
	return decision, nil
}

func buildPrompt(itemText, relevanceContext string, extra map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Post: ")
	sb.WriteString(itemText)
	sb.WriteString("\n\n")
	if relevanceContext != "" {
		sb.WriteString(relevanceContext)
		sb.WriteString("\n\n")
	}
	for key, value := range extra {
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnalyze this post and provide your decision.")
	return sb.String()
}

// parseDecision validates raw oracle output against the fixed 4-field
// structure. Anything else is rejected as nil, never defaulted.
func parseDecision(raw string) *Decision {
	payload := extractJSON(raw)
	if payload == "" {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil
	}

	for _, key := range []string{"decision", "comment", "confidence", "reasoning"} {
		if _, ok := fields[key]; !ok {
			return nil
		}
	}

	var rawKind string
	if err := json.Unmarshal(fields["decision"], &rawKind); err != nil {
		return nil
	}
	kind, ok := ParseKind(rawKind)
	if !ok {
		return nil
	}

	var comment string
	if err := json.Unmarshal(fields["comment"], &comment); err != nil {
		return nil
	}

	confidence, ok := coerceFloat(fields["confidence"])
	if !ok {
		return nil
	}

	var reasoning string
	if err := json.Unmarshal(fields["reasoning"], &reasoning); err != nil {
		return nil
	}

	return &Decision{
		Kind:       kind,
		ReplyText:  comment,
		Confidence: confidence,
		Rationale:  reasoning,
	}
}

// coerceFloat accepts JSON numbers and numeric strings.
func coerceFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// extractJSON pulls the first JSON object out of a model response,
// tolerating markdown code fences and surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
