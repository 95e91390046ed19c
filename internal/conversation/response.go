package conversation

import (
	"regexp"
	"strings"
)

type QuestionType string

const (
	QuestionWhere   QuestionType = "where"
	QuestionWhen    QuestionType = "when"
	QuestionHow     QuestionType = "how"
	QuestionWhat    QuestionType = "what"
	QuestionWho     QuestionType = "who"
	QuestionWhy     QuestionType = "why"
	QuestionYesNo   QuestionType = "yes_no"
	QuestionChoice  QuestionType = "choice"
	QuestionUnknown QuestionType = "unknown"
)

// ParsedResponse lists the questions a reply asks.
type ParsedResponse struct {
	Questions []string
	Primary   string
	Type      QuestionType

	// AwaitingResponse is set when the reply asks anything at all.
	AwaitingResponse bool
}

var (
	sentenceEnd = regexp.MustCompile(`[^.!?]*[.!?]?`)
	yesNoStart  = regexp.MustCompile(`(?i)^\s*(is|are|do|does|did|can|could|will|would|has|have|had)\b`)
	choiceWord  = regexp.MustCompile(`(?i)\bor\b`)

	// Checked in order; the first hit wins.
	questionKinds = []struct {
		kind QuestionType
		re   *regexp.Regexp
	}{
		{QuestionWhere, regexp.MustCompile(`(?i)\b(where|which\s+(?:part|area|location))\b`)},
		{QuestionWhen, regexp.MustCompile(`(?i)\b(when|what\s+time|which\s+day|how\s+long\s+ago)\b`)},
		{QuestionHow, regexp.MustCompile(`(?i)\bhow\s+(?:much|many|severe|bad|long|often)\b`)},
		{QuestionWhat, regexp.MustCompile(`(?i)\b(what|which)\b`)},
		{QuestionWho, regexp.MustCompile(`(?i)\b(who|which\s+(?:doctor|provider))\b`)},
		{QuestionWhy, regexp.MustCompile(`(?i)\bwhy\b`)},
	}
)

// ParseResponse finds the questions in a system reply. The first one is
// the primary question a follow-up answer is read against.
func ParseResponse(response string) ParsedResponse {
	if !strings.Contains(response, "?") {
		return ParsedResponse{}
	}
	questions := Questions(response)
	out := ParsedResponse{Questions: questions, AwaitingResponse: true, Type: QuestionUnknown}
	if len(questions) > 0 {
		out.Primary = questions[0]
		out.Type = Classify(out.Primary)
	}
	return out
}

// Questions splits text into sentences and keeps those ending in "?".
func Questions(text string) []string {
	var out []string
	for _, s := range sentenceEnd.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if strings.HasSuffix(s, "?") {
			out = append(out, s)
		}
	}
	return out
}

func Classify(question string) QuestionType {
	if strings.TrimSpace(question) == "" {
		return QuestionUnknown
	}
	if yesNoStart.MatchString(question) {
		return QuestionYesNo
	}
	if choiceWord.MatchString(question) {
		return QuestionChoice
	}
	for _, k := range questionKinds {
		if k.re.MatchString(question) {
			return k.kind
		}
	}
	return QuestionUnknown
}
