package lineedit

// wideRanges enumerates the CJK code-point ranges rendered as two
// terminal columns. This is a fixed data table, not a call out to
// wcwidth(3) (§9 "do not depend on wcwidth; ship the ranges as data") —
// only these ranges are treated as double-width, nothing more exotic.
var wideRanges = [][2]rune{
	{0x1100, 0x115F},   // Hangul Jamo
	{0x2E80, 0x303E},   // CJK Radicals, Kangxi, CJK Symbols and Punctuation
	{0x3041, 0x33FF},   // Hiragana .. CJK Compatibility
	{0x3400, 0x4DBF},   // CJK Unified Ideographs Extension A
	{0x4E00, 0x9FFF},   // CJK Unified Ideographs
	{0xA000, 0xA4CF},   // Yi Syllables, Yi Radicals
	{0xAC00, 0xD7A3},   // Hangul Syllables
	{0xF900, 0xFAFF},   // CJK Compatibility Ideographs
	{0xFE30, 0xFE4F},   // CJK Compatibility Forms
	{0xFF00, 0xFF60},   // Fullwidth Forms
	{0xFFE0, 0xFFE6},   // Fullwidth Signs
	{0x20000, 0x2FFFD}, // CJK Unified Ideographs Extension B..
	{0x30000, 0x3FFFD},
}

// RuneWidth returns the terminal column width of r: 0 for NUL and the
// C0/C1 control characters, 2 for a code point in wideRanges, 1
// otherwise. Combining marks are not special-cased and count as 1.
func RuneWidth(r rune) int {
	if r == 0 {
		return 0
	}
	if r < 0x20 || (r >= 0x7f && r < 0xa0) {
		return 0
	}
	for _, rg := range wideRanges {
		if r < rg[0] {
			break
		}
		if r <= rg[1] {
			return 2
		}
	}
	return 1
}

// StringWidth sums RuneWidth over s.
func StringWidth(s string) int {
	width := 0
	for _, r := range s {
		width += RuneWidth(r)
	}
	return width
}
