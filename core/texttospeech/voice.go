package texttospeech

// VoiceProfiles pairs the voice used for text containing Chinese characters
// with the voice used for everything else.
type VoiceProfiles struct {
	CJK     string `mapstructure:"cjk" json:"cjk"`
	Default string `mapstructure:"default" json:"default"`
}

// Select picks the CJK voice if text contains at least one CJK Unified
// Ideograph and the default voice otherwise.
func (p VoiceProfiles) Select(text string) string {
	if ContainsCJK(text) {
		return p.CJK
	}
	return p.Default
}

// ContainsCJK reports whether text contains a character in U+4E00..U+9FFF.
func ContainsCJK(text string) bool {
	for _, r := range text {
		if r >= '\u4e00' && r <= '\u9fff' {
			return true
		}
	}
	return false
}
