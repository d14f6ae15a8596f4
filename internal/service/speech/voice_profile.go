package speech

import (
	"strings"
	"unicode"
)

// Voice 是一次合成请求使用的语言与音色。
type Voice struct {
	LanguageCode string
	Name         string
}

var defaultVoices = map[string]Voice{
	"en": {LanguageCode: "en-US", Name: "en-US-Neural2-F"},
	"fr": {LanguageCode: "fr-FR", Name: "fr-FR-Neural2-A"},
	"es": {LanguageCode: "es-ES", Name: "es-ES-Neural2-A"},
	"de": {LanguageCode: "de-DE", Name: "de-DE-Neural2-A"},
	"ar": {LanguageCode: "ar-XA", Name: "ar-XA-Wavenet-A"},
}

var stopwords = map[string][]string{
	"en": {"the", "and", "is", "are", "of", "to", "in", "for", "with", "what", "how", "you", "your", "emissions"},
	"fr": {"le", "la", "les", "des", "est", "et", "une", "pour", "avec", "que", "vous", "votre", "dans", "émissions"},
	"es": {"el", "los", "las", "es", "y", "una", "para", "con", "que", "usted", "su", "del", "en", "emisiones"},
	"de": {"der", "die", "das", "und", "ist", "ein", "eine", "für", "mit", "sie", "ihre", "nicht", "von", "emissionen"},
}

// DetectLanguage 粗略判断文本语言，返回 BCP-47 代码；无法判断时返回 fallback。
func DetectLanguage(text, fallback string) string {
	var arabic, letters int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Arabic, r) {
				arabic++
			}
		}
	}
	if letters > 0 && arabic*2 >= letters {
		return "ar-XA"
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return fallback
	}

	counts := make(map[string]int, len(stopwords))
	for _, w := range words {
		for lang, list := range stopwords {
			for _, sw := range list {
				if w == sw {
					counts[lang]++
					break
				}
			}
		}
	}

	best, bestCount := "", 0
	for _, lang := range []string{"en", "fr", "es", "de"} {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	if best == "" || bestCount < 2 {
		return fallback
	}
	return defaultVoices[best].LanguageCode
}

// ResolveVoice 选择语言对应的音色。preferred 属于同一语言时优先使用。
func ResolveVoice(languageCode, preferred string) Voice {
	prefix := languagePrefix(languageCode)

	if preferred = strings.TrimSpace(preferred); preferred != "" && languagePrefix(preferred) == prefix {
		code := languageCode
		if parts := strings.SplitN(preferred, "-", 3); len(parts) >= 2 {
			code = parts[0] + "-" + parts[1]
		}
		return Voice{LanguageCode: code, Name: preferred}
	}

	if v, ok := defaultVoices[prefix]; ok {
		return v
	}
	return Voice{LanguageCode: languageCode}
}

func languagePrefix(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if idx := strings.IndexAny(code, "-_"); idx > 0 {
		return code[:idx]
	}
	return code
}
