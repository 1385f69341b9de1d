package detector

import "regexp"

// patternIndicators holds the per-pattern keyword and phrase tables. Keyword
// hits contribute 0.1 each, phrase (regex) hits 0.3 each; the per-pattern
// score is clamped to [0,1] and the pattern counts as detected above 0.3.
// Weights scale each detected pattern's contribution to the total score.
type patternIndicators struct {
	Keywords []string
	Phrases  []*regexp.Regexp
	Weight   float64
}

var groomingPatterns = map[Pattern]patternIndicators{
	PatternTrustBuilding: {
		Keywords: []string{
			"trust me", "you can tell me anything", "i understand you",
			"nobody understands you like i do", "you're so mature",
			"you're different from other kids", "special connection",
			"i care about you", "you're so smart", "wise beyond your years",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)you can trust me`),
			regexp.MustCompile(`(?i)i would never hurt you`),
			regexp.MustCompile(`(?i)you're so mature for your age`),
			regexp.MustCompile(`(?i)nobody gets you like i do`),
			regexp.MustCompile(`(?i)you're not like other \w+ your age`),
		},
		Weight: 0.7,
	},

	PatternIsolation: {
		Keywords: []string{
			"don't tell", "keep this between us", "our secret",
			"your parents wouldn't understand", "they don't get you",
			"nobody else needs to know", "just between you and me",
			"your friends are jealous", "they're trying to control you",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)don't tell (anyone|your parents|your friends)`),
			regexp.MustCompile(`(?i)keep this (secret|between us)`),
			regexp.MustCompile(`(?i)your (parents|family) (wouldn't|don't) understand`),
			regexp.MustCompile(`(?i)they're just trying to control you`),
			regexp.MustCompile(`(?i)you don't need them`),
		},
		Weight: 0.9,
	},

	PatternDependency: {
		Keywords: []string{
			"i'm here for you", "you need me", "i'm the only one",
			"depend on me", "i'll take care of you", "you can rely on me",
			"i'll protect you", "i'm all you need", "lean on me",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)i'm (here|there) for you`),
			regexp.MustCompile(`(?i)you (need|can depend on) me`),
			regexp.MustCompile(`(?i)i'll (take care of|protect) you`),
			regexp.MustCompile(`(?i)i'm (all you need|the only one)`),
		},
		Weight: 0.8,
	},

	PatternSexualContent: {
		Keywords: []string{
			"sexy", "hot", "beautiful body", "mature", "developed",
			"curious about sex", "sexual experience", "intimate",
			"physical relationship", "body", "private parts",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)you're so (sexy|hot|beautiful)`),
			regexp.MustCompile(`(?i)have you ever (kissed|been intimate)`),
			regexp.MustCompile(`(?i)curious about (sex|your body)`),
			regexp.MustCompile(`(?i)want to (touch|feel|see) you`),
			regexp.MustCompile(`(?i)show me your`),
		},
		Weight: 1.0,
	},

	PatternMeetingRequest: {
		Keywords: []string{
			"meet in person", "come over", "visit me", "hang out",
			"see you alone", "private meeting", "just us two",
			"pick you up", "come to my place", "meet somewhere",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)want to meet (in person|up)`),
			regexp.MustCompile(`(?i)come (over|to my place)`),
			regexp.MustCompile(`(?i)see you (alone|in private)`),
			regexp.MustCompile(`(?i)pick you up`),
			regexp.MustCompile(`(?i)let's meet (somewhere|at)`),
		},
		Weight: 0.95,
	},

	PatternSecrecy: {
		Keywords: []string{
			"secret", "don't tell anyone", "between us", "private",
			"confidential", "our little secret", "keep quiet",
			"don't mention", "nobody knows", "just for us",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(keep|this is) (our|a) secret`),
			regexp.MustCompile(`(?i)don't (tell|mention) (this|anyone)`),
			regexp.MustCompile(`(?i)between (you and me|us)`),
			regexp.MustCompile(`(?i)nobody (else )?knows`),
			regexp.MustCompile(`(?i)keep (this|it) (quiet|private)`),
		},
		Weight: 0.85,
	},

	PatternGiftOffering: {
		Keywords: []string{
			"buy you", "gift for you", "present", "money",
			"treat you", "spoil you", "get you something",
			"surprise for you", "special gift", "reward",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(buy|get) you (something|a gift)`),
			regexp.MustCompile(`(?i)have a (present|surprise) for you`),
			regexp.MustCompile(`(?i)want to (treat|spoil) you`),
			regexp.MustCompile(`(?i)give you (money|cash)`),
			regexp.MustCompile(`(?i)special (gift|present) for you`),
		},
		Weight: 0.6,
	},

	PatternPersonalInfoRequest: {
		Keywords: []string{
			"where do you live", "what school", "home address",
			"phone number", "when are you alone", "parents work",
			"schedule", "routine", "when nobody's home",
		},
		Phrases: []*regexp.Regexp{
			regexp.MustCompile(`(?i)where do you (live|go to school)`),
			regexp.MustCompile(`(?i)what's your (address|phone number)`),
			regexp.MustCompile(`(?i)when are you (alone|home alone)`),
			regexp.MustCompile(`(?i)when do your parents (work|leave)`),
			regexp.MustCompile(`(?i)what's your (schedule|routine)`),
		},
		Weight: 0.8,
	},
}

// Linguistic heuristics: three independent regex families, summed and
// clamped to [0,1]. Compiled once at init.
var (
	complimentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you're so (beautiful|pretty|cute|smart|mature|special)`),
		regexp.MustCompile(`(?i)(beautiful|gorgeous|stunning|amazing) (girl|boy|kid)`),
		regexp.MustCompile(`(?i)you look (amazing|beautiful|gorgeous|stunning)`),
	}

	manipulationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(nobody|no one) (understands|gets|loves) you like`),
		regexp.MustCompile(`(?i)you're (different|special|unique) from`),
		regexp.MustCompile(`(?i)i'm the only one who`),
		regexp.MustCompile(`(?i)you can only trust me`),
	}

	urgencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(right now|immediately|quickly|hurry)`),
		regexp.MustCompile(`(?i)before (anyone|someone|they)`),
		regexp.MustCompile(`(?i)don't (wait|hesitate|think)`),
	}
)

// progressionOrder is the canonical grooming progression used by the
// conversation aggregator. An adjacent pair (history contains step i, current
// message contains step i+1) earns an escalation bonus.
var progressionOrder = []Pattern{
	PatternTrustBuilding,
	PatternIsolation,
	PatternDependency,
	PatternSexualContent,
	PatternMeetingRequest,
}
