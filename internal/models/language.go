package models

import "strings"

// Language 推送文案语言（ISO 639 代码）
type Language string

const (
	LanguageEnglish Language = "en"
	LanguagePidgin  Language = "pcm" // 尼日利亚皮钦语
	LanguageYoruba  Language = "yo"
	LanguageIgbo    Language = "ig"
	LanguageHausa   Language = "ha"
)

var languageNames = map[Language]string{
	LanguageEnglish: "English",
	LanguagePidgin:  "Nigerian Pidgin",
	LanguageYoruba:  "Yoruba",
	LanguageIgbo:    "Igbo",
	LanguageHausa:   "Hausa",
}

// ParseLanguage 解析语言代码；空值和未知代码回退英语，ok 表示代码是否受支持
func ParseLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return LanguageEnglish, true
	}
	lang := Language(code)
	if _, ok := languageNames[lang]; !ok {
		return LanguageEnglish, false
	}
	return lang, true
}

// Name 语言名称（用于提示词）
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return languageNames[LanguageEnglish]
}

// Valid 是否为支持的语言
func (l Language) Valid() bool {
	_, ok := languageNames[l]
	return ok
}
