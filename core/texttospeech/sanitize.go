package texttospeech

import "strings"

var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F680, 0x1F6FF}, // transport and map symbols
	{0x1F1E0, 0x1F1FF}, // flags
	{0x2702, 0x27B0},
	{0x1F900, 0x1F9FF},
	{0x1FA70, 0x1FAFF},
}

// StripEmoji removes emoji and pictographs that speech engines either skip
// or read out by name.
func StripEmoji(text string) string {
	return strings.Map(func(r rune) rune {
		for _, rng := range emojiRanges {
			if r >= rng[0] && r <= rng[1] {
				return -1
			}
		}
		return r
	}, text)
}
