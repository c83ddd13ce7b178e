package metadata

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

var symbols = "1234567890!@#$%^&*()-=_+[]{};\"|;'\\<>?/.,~`"

// Parenthetical words that mark a variant suffix rather than part of the
// title proper: "(Remastered 2011)", "(Radio Edit)", "[Live]" and friends.
var guffParenWords = []string{
	"a cappella", "acoustic", "bonus", "censored", "clean", "club", "clubmix",
	"cut", "dance", "demo", "deluxe", "dirty", "edit", "explicit", "extended",
	"instrumental", "intro", "karaoke", "live", "main", "maxi", "megamix",
	"mix", "mono", "official", "original", "outro", "radio", "re-edit",
	"reedit", "rehearsal", "released", "release", "remake", "remastered",
	"remaster", "master", "remix", "remixed", "reprise", "rework", "reworked",
	"rmx", "session", "short", "single", "stereo", "studio", "take", "track",
	"uncensored", "unplugged", "version", "ver", "video", "vocal", "vs",
	"with", "without",
}

// Cleaner strips variant guff from titles and artists so that the same
// recording reported by two sources collapses to one key.
type Cleaner struct {
	titleExpressions []*regexp2.Regexp
	yearExpr         *regexp2.Regexp
}

func NewCleaner() *Cleaner {
	titlePatterns := []string{
		`(?<title>.+?)\s+(?<enclosed>\(.+\)|\[.+\]|\{.+\})$`,
		`(?<title>.+?)\s+?(?<feat>[\[\(]?(?:feat(?:uring)?|ft)\b\.?)\s*?(?<artists>.+)\s*`,
		`(?<title>.+?)(?:\s+?[\u2010\u2012\u2013\u2014~/-])(?![^(]*\))(?<dash>.*)`,
	}

	compiled := make([]*regexp2.Regexp, 0, len(titlePatterns))
	for _, pattern := range titlePatterns {
		compiled = append(compiled, regexp2.MustCompile(`(?i)`+pattern, 0))
	}

	return &Cleaner{
		titleExpressions: compiled,
		yearExpr:         regexp2.MustCompile(`(20[0-9]{2}|19[0-9]{2})`, 0),
	}
}

// isParenTextLikelyGuff decides whether enclosed text is a variant marker
// rather than part of the title. "(Remastered 2011)" is guff; "(What's the
// Story) Morning Glory?" is not.
func (c *Cleaner) isParenTextLikelyGuff(parenText string) bool {
	pt := strings.ToLower(parenText)
	beforeLen := utf8.RuneCountInString(pt)

	for _, guff := range guffParenWords {
		pt = strings.ReplaceAll(pt, guff, "")
	}

	pt, _ = c.yearExpr.Replace(pt, "", -1, -1)
	afterLen := utf8.RuneCountInString(pt)
	replaced := beforeLen - afterLen

	chars := 0
	guffChars := replaced
	for _, ch := range pt {
		if strings.ContainsRune(symbols, ch) {
			guffChars++
		}
		if unicode.IsLetter(ch) {
			chars++
		}
	}

	return guffChars > chars
}

// parensBalanced guards against mangling titles with unmatched brackets.
func (c *Cleaner) parensBalanced(text string) bool {
	pairs := []struct {
		open, close rune
	}{
		{'(', ')'}, {'[', ']'}, {'{', '}'},
	}
	for _, pair := range pairs {
		if strings.Count(text, string(pair.open)) != strings.Count(text, string(pair.close)) {
			return false
		}
	}
	return true
}

// CleanTitle strips variant suffixes from a track title. Returns the
// cleaned title and whether anything changed.
func (c *Cleaner) CleanTitle(text string) (string, bool) {
	text = strings.TrimSpace(text)

	if !c.parensBalanced(text) {
		return text, false
	}

	var changed bool
	for _, expr := range c.titleExpressions {
		match, _ := expr.FindStringMatch(text)
		if match == nil {
			continue
		}
		groups := make(map[string]string)
		for _, name := range expr.GetGroupNames() {
			groups[name] = strings.TrimSpace(match.GroupByName(name).String())
		}

		if enclosed := groups["enclosed"]; enclosed != "" && c.isParenTextLikelyGuff(enclosed) {
			text = groups["title"]
			changed = true
			break
		}
		if feat := groups["feat"]; feat != "" {
			text = groups["title"]
			changed = true
			break
		}
		if dash := groups["dash"]; dash != "" && c.isParenTextLikelyGuff(dash) {
			text = groups["title"]
			changed = true
			break
		}
	}

	return strings.TrimSpace(text), changed
}
