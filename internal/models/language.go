package models

// DefaultLanguage is the catalog's primary video language.
const DefaultLanguage = "ko"

// LanguageNames maps supported course language codes to display names.
var LanguageNames = map[string]string{
	"ko": "한국어",
	"en": "English",
	"zh": "中文",
	"vi": "Tiếng Việt",
	"th": "ไทย",
	"ja": "日本語",
	"my": "မြန်မာဘာသာ",
	"km": "ភាសាខ្មែរ",
	"id": "Bahasa Indonesia",
	"ms": "Bahasa Melayu",
	"tl": "Tagalog",
	"hi": "हिन्दी",
	"bn": "বাংলা",
	"ne": "नेपाली",
	"ur": "اردو",
	"ar": "العربية",
	"es": "Español",
	"pt": "Português",
	"ru": "Русский",
	"fr": "Français",
	"de": "Deutsch",
}

// ValidLanguage reports whether code is a supported language code.
func ValidLanguage(code string) bool {
	_, ok := LanguageNames[code]
	return ok
}

// LanguageOption pairs a language code with its display name.
type LanguageOption struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}
