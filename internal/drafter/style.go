package drafter

import "github.com/replyradar/pkg/models"

// StyleGuide is the per-platform writing brief.
type StyleGuide struct {
	Tone      string   `koanf:"tone" json:"tone"`
	MaxLength int      `koanf:"max_length" json:"max_length"`
	Dos       []string `koanf:"dos" json:"dos"`
	Donts     []string `koanf:"donts" json:"donts"`
	Examples  []string `koanf:"examples" json:"examples"`
}

var DefaultStyleGuides = map[models.Platform]StyleGuide{
	models.PlatformReddit: {
		Tone:      "casual and peer-to-peer, like a fellow practitioner in the subreddit",
		MaxLength: 1200,
		Dos: []string{
			"Answer the actual question first",
			"Share a concrete detail from experience",
			"Mention the product at most once, and only if it genuinely fits",
		},
		Donts: []string{
			"Use marketing language or superlatives",
			"Add links unless the post asks for tools",
			"Use headings or bullet-heavy formatting",
		},
		Examples: []string{
			"I ran into the same thing with walk-forward tests. What fixed it for me was splitting the data by regime first, then tuning per window. We ended up building that into our tool, but even a spreadsheet version gets you most of the way.",
		},
	},
	models.PlatformHackerNews: {
		Tone:      "understated, technical and precise",
		MaxLength: 1000,
		Dos: []string{
			"Lead with the technical substance",
			"Disclose affiliation plainly if mentioning the product",
		},
		Donts: []string{
			"Sound like a sales pitch",
			"Use emoji or exclamation marks",
		},
	},
	models.PlatformForum: {
		Tone:      "friendly and thorough, like a helpful regular",
		MaxLength: 1500,
		Dos: []string{
			"Address the author's specific setup",
			"Offer a next step they can try today",
		},
		Donts: []string{
			"Repeat what earlier replies already said",
		},
	},
	models.PlatformTwitter: {
		Tone:      "brief and conversational",
		MaxLength: 280,
		Dos:       []string{"Make one point well"},
		Donts:     []string{"Use hashtags", "Thread the reply"},
	},
}

// Humanizer is the "sound like a person" ruleset.
type Humanizer struct {
	BannedWords   []string `koanf:"banned_words" json:"banned_words"`
	BannedPhrases []string `koanf:"banned_phrases" json:"banned_phrases"`
	Tips          []string `koanf:"tips" json:"tips"`
}

var DefaultHumanizer = Humanizer{
	BannedWords: []string{
		"delve", "leverage", "utilize", "robust", "seamless", "game-changer", "unlock", "elevate",
		"empower", "tapestry", "realm", "synergy", "cutting-edge", "revolutionize",
	},
	BannedPhrases: []string{
		"Great question", "I hope this helps", "As an AI", "In today's fast-paced world",
		"It's worth noting that", "Feel free to reach out", "In conclusion",
	},
	Tips: []string{
		"Use contractions and plain words.",
		"Vary sentence length; short sentences are fine.",
		"It is fine to start with \"Yeah\" or \"Honestly\" if it fits the thread.",
		"Do not summarise the post back to the author.",
		"No em dashes.",
	},
}

// merge fills empty fields of h from d.
func (h Humanizer) merge(d Humanizer) Humanizer {
	if len(h.BannedWords) == 0 {
		h.BannedWords = d.BannedWords
	}
	if len(h.BannedPhrases) == 0 {
		h.BannedPhrases = d.BannedPhrases
	}
	if len(h.Tips) == 0 {
		h.Tips = d.Tips
	}
	return h
}

var DefaultAudienceGuidance = map[models.AudienceType]string{
	models.AudienceTrader:     "The author trades actively. Talk in terms of execution, P&L, drawdown, slippage and saving screen time. Skip academic framing.",
	models.AudienceResearcher: "The author is research minded. Talk about data quality, methodology, overfitting, reproducibility and statistical validity.",
	models.AudienceHybrid:     "The author both researches and trades. Connect rigorous testing to what actually happens live.",
}
