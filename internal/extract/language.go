package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector guesses the ISO 639-1 language of a text.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

// minDetectRunes is the shortest text worth running detection on.
const minDetectRunes = 20

// DefaultLanguages are detected when no explicit list is given.
var DefaultLanguages = []lingua.Language{
	lingua.English, lingua.French, lingua.German, lingua.Spanish,
	lingua.Italian, lingua.Portuguese, lingua.Dutch, lingua.Russian,
	lingua.Japanese, lingua.Chinese,
}

// LinguaDetector detects languages with lingua-go in low accuracy mode.
// Building it loads language models, so create one per crawl.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector creates a detector for the given languages, or for
// DefaultLanguages when none are given.
func NewLinguaDetector(languages ...lingua.Language) *LinguaDetector {
	if len(languages) < 2 {
		languages = DefaultLanguages
	}
	return &LinguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithLowAccuracyMode().
			Build(),
	}
}

// Detect implements LanguageDetector.
func (d *LinguaDetector) Detect(text string) (string, bool) {
	if utf8.RuneCountInString(text) < minDetectRunes {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
