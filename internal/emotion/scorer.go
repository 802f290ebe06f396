package emotion

import (
	"strings"
	"unicode"

	"github.com/npezzotti/go-chatstream/internal/types"
)

// Scorer derives an emotional state from produced text.
type Scorer interface {
	Score(text string) types.EmotionalState
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(text string) types.EmotionalState

func (f ScorerFunc) Score(text string) types.EmotionalState {
	return f(text)
}

const (
	keywordWeight   = 3
	baseIntensity   = 25
	intensityPerPt  = 8
	calmIntensity   = 30
	maxIntensity    = 100
	exclaimBoost    = 2
	questionBoost   = 2
	maxPunctBonuses = 3
)

type bucket struct {
	label    types.Emotion
	keywords []string
}

// buckets are checked in order; on equal scores the earlier label wins.
var buckets = []bucket{
	{types.EmotionHappy, []string{
		"happy", "glad", "great", "wonderful", "awesome", "amazing", "thanks", "thank you",
		"delighted", "pleased", "nice", "fantastic", "haha", "lol", "yay", "enjoy",
	}},
	{types.EmotionExcited, []string{
		"excited", "can't wait", "cant wait", "thrilled", "incredible", "wow", "unbelievable",
		"hype", "let's go", "pumped", "stoked",
	}},
	{types.EmotionSad, []string{
		"sad", "sorry", "unhappy", "depressed", "cry", "crying", "upset", "hurt", "lonely",
		"miss", "disappointed", "heartbroken", "grief", "loss",
	}},
	{types.EmotionAngry, []string{
		"angry", "furious", "rage", "mad", "annoyed", "annoying", "hate", "outraged",
		"frustrated", "fed up", "pissed",
	}},
	{types.EmotionAnxious, []string{
		"worried", "anxious", "nervous", "afraid", "scared", "fear", "panic", "stress",
		"stressed", "uneasy", "concerned",
	}},
	{types.EmotionCurious, []string{
		"curious", "wonder", "interesting", "why", "how come", "what if", "tell me more",
		"fascinating", "intriguing",
	}},
	{types.EmotionAffectionate, []string{
		"love", "adore", "dear", "sweetheart", "hug", "hugs", "care about", "cherish",
		"darling", "warmly",
	}},
	{types.EmotionCalm, []string{
		"calm", "relax", "relaxed", "peaceful", "gentle", "breathe", "take it easy",
		"no worries", "it's okay", "steady",
	}},
}

// KeywordScorer matches whole words and phrases per label. Text with no
// matches scores calm; empty text scores neutral.
type KeywordScorer struct{}

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

func (s *KeywordScorer) Score(text string) types.EmotionalState {
	now := types.Now()

	normalized := normalize(text)
	if normalized == "" {
		return types.EmotionalState{Primary: types.EmotionNeutral, Intensity: 0, Timestamp: now}
	}

	padded := " " + normalized + " "
	scores := make(map[types.Emotion]int, len(buckets))
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				scores[b.label] += keywordWeight
			}
		}
	}

	if n := min(strings.Count(text, "!"), maxPunctBonuses); n > 0 {
		scores[types.EmotionExcited] += n * exclaimBoost
		if n == 1 {
			scores[types.EmotionHappy] += exclaimBoost
		}
	}
	if n := min(strings.Count(text, "?"), maxPunctBonuses); n > 0 {
		scores[types.EmotionCurious] += n * questionBoost
	}

	best, bestScore := types.EmotionCalm, 0
	for _, b := range buckets {
		if scores[b.label] > bestScore {
			best, bestScore = b.label, scores[b.label]
		}
	}

	if bestScore == 0 {
		return types.EmotionalState{Primary: types.EmotionCalm, Intensity: calmIntensity, Timestamp: now}
	}

	return types.EmotionalState{
		Primary:   best,
		Intensity: min(baseIntensity+bestScore*intensityPerPt, maxIntensity),
		Timestamp: now,
	}
}

// normalize lowercases text and collapses everything that is not part of a
// word into single spaces.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(words, " ")
}
