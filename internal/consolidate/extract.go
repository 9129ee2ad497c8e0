package consolidate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/engramlabs/engram/internal/model"
)

// extractedEntity is an entity candidate pulled from a working-memory entry.
type extractedEntity struct {
	Name string
	Type string
}

// extractedFact is a fact candidate tied to an entity by name.
type extractedFact struct {
	EntityName string
	Property   string
	Value      string
	Confidence float64
}

// skillCandidate is a procedural pattern worth promoting into the library.
type skillCandidate struct {
	Name    string
	Summary string
	Trigger string
}

var (
	worksAtPattern  = regexp.MustCompile(`(?i)\b([A-Z][\w]*(?: [A-Z][\w]*)*) works at ([A-Z][\w]*(?: [A-Z][\w]*)*)`)
	prefersPattern  = regexp.MustCompile(`(?i)\b(?:i|we|user) prefers? ([\w-]+(?: [\w-]+){0,3})`)
	usesPattern     = regexp.MustCompile(`(?i)\bdecided to use ([\w-]+(?: [\w-]+){0,2})`)
	likesPattern    = regexp.MustCompile(`(?i)\b([A-Z][\w]*) (likes|dislikes) ([\w-]+(?: [\w-]+){0,3})`)
	capitalizedRun  = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?: [A-Z][a-z0-9]+)*\b`)
	proceduralWords = regexp.MustCompile(`(?i)\b(first|then|finally|step \d|run|execute|deploy)\b`)
)

// extractEntities pulls entity candidates from an entry: its tagged key
// entities first, then capitalized runs from the text. Topics become concept
// entities so the graph can link conversations by subject.
func extractEntities(entry *model.WorkingMemoryEntry) []extractedEntity {
	seen := make(map[string]bool)
	var out []extractedEntity
	add := func(name, typ string) {
		name = strings.TrimSpace(name)
		if name == "" || len(name) < 2 {
			return
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, extractedEntity{Name: name, Type: typ})
	}

	for _, e := range entry.KeyEntities {
		add(e, "entity")
	}
	for _, t := range entry.Topics {
		add(t, "concept")
	}
	for _, run := range capitalizedRun.FindAllString(entry.FullText, -1) {
		if isSentenceStartNoise(run, entry.FullText) {
			continue
		}
		add(run, "entity")
	}
	return out
}

// isSentenceStartNoise filters capitalized words that only start a sentence.
func isSentenceStartNoise(candidate, text string) bool {
	if strings.Contains(candidate, " ") {
		return false
	}
	idx := strings.Index(text, candidate)
	if idx <= 0 {
		return true
	}
	for i := idx - 1; i >= 0; i-- {
		r := rune(text[i])
		if unicode.IsSpace(r) {
			continue
		}
		return r == '.' || r == '!' || r == '?'
	}
	return true
}

// extractFacts matches a small set of assertion patterns. Heuristic
// extraction runs at modest confidence; conflict detection and decay sort out
// what survives.
func extractFacts(entry *model.WorkingMemoryEntry) []extractedFact {
	text := entry.FullText
	var out []extractedFact

	for _, m := range worksAtPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, extractedFact{EntityName: m[1], Property: "works_at", Value: m[2], Confidence: 0.7})
	}
	for _, m := range prefersPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, extractedFact{EntityName: "user", Property: "preference", Value: strings.TrimSpace(m[1]), Confidence: 0.6})
	}
	for _, m := range usesPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, extractedFact{EntityName: "project", Property: "uses", Value: strings.TrimSpace(m[1]), Confidence: 0.7})
	}
	for _, m := range likesPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, extractedFact{EntityName: m[1], Property: "sentiment:" + strings.ToLower(m[3]), Value: strings.ToLower(m[2]), Confidence: 0.6})
	}
	return out
}

// extractSkillCandidate promotes an entry into a skill candidate when it has a
// stated intent and procedural structure in the text.
func extractSkillCandidate(entry *model.WorkingMemoryEntry) *skillCandidate {
	intent := strings.TrimSpace(entry.UserIntent)
	if intent == "" {
		return nil
	}
	if !proceduralWords.MatchString(entry.FullText) {
		return nil
	}
	summary := entry.FullText
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return &skillCandidate{
		Name:    intent,
		Summary: summary,
		Trigger: intent,
	}
}
