package lyrics

import (
	"regexp"
	"strings"

	"github.com/lyrebird-fm/lyrebird/models"
)

// Timestamp tags: [mm:ss.xx] for lines, <mm:ss.xx> for words in enhanced LRC.
var (
	lineTagRe = regexp.MustCompile(`\[(\d{1,2}):(\d{1,2})(?:\.(\d{1,3}))?\]`)
	wordTagRe = regexp.MustCompile(`<(\d{1,2}):(\d{1,2})(?:\.(\d{1,3}))?>`)
)

// ParseLRC parses standard or enhanced (word-timed) LRC text into a
// LyricsDoc. Enhanced input yields WordSynced; plain timestamped input
// yields Synced; input without any timestamps yields Unsynced.
func ParseLRC(text string, provider models.ProviderID) models.LyricsDoc {
	var lines []models.LyricLine
	wordSynced := false
	anyTag := false

	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		// Metadata tags like [ti:], [ar:], [offset:].
		if isMetaTag(raw) {
			continue
		}

		tags := lineTagRe.FindAllStringSubmatchIndex(raw, -1)
		if len(tags) == 0 {
			lines = append(lines, models.LyricLine{Text: stripWordTags(raw)})
			continue
		}
		anyTag = true

		last := tags[len(tags)-1]
		body := strings.TrimSpace(raw[last[1]:])
		words := parseWordTags(body)

		text := stripWordTags(body)
		if text == "" && len(words) == 0 {
			continue
		}

		// A line can carry several [tags] when it repeats.
		for _, tag := range tags {
			t := tagMillis(raw[tag[0]:tag[1]], lineTagRe)
			line := models.LyricLine{TimeMs: t, Text: text}
			if len(words) > 0 {
				wordSynced = true
				line.Words = append([]models.LyricWord(nil), words...)
			}
			lines = append(lines, line)
		}
	}

	doc := models.LyricsDoc{Lines: lines, ProviderID: provider}
	switch {
	case len(lines) == 0:
		doc.Kind = models.LyricsNotFound
	case wordSynced:
		doc.Kind = models.LyricsWordSynced
	case anyTag:
		doc.Kind = models.LyricsSynced
	default:
		doc.Kind = models.LyricsUnsynced
	}
	doc.SortLines()
	return doc
}

// ParsePlain turns raw unsynced lyric text into an Unsynced document.
func ParsePlain(text string, provider models.ProviderID) models.LyricsDoc {
	var lines []models.LyricLine
	lastEmpty := false
	for _, raw := range strings.Split(text, "\n") {
		t := strings.TrimSpace(raw)
		if t == "" {
			if lastEmpty || len(lines) == 0 {
				continue
			}
			lastEmpty = true
			lines = append(lines, models.LyricLine{})
			continue
		}
		lastEmpty = false
		lines = append(lines, models.LyricLine{Text: t})
	}
	for len(lines) > 0 && lines[len(lines)-1].Text == "" {
		lines = lines[:len(lines)-1]
	}

	kind := models.LyricsUnsynced
	if len(lines) == 0 {
		kind = models.LyricsNotFound
	}
	return models.LyricsDoc{Kind: kind, Lines: lines, ProviderID: provider}
}

func isMetaTag(line string) bool {
	for _, prefix := range []string{"[ti:", "[ar:", "[al:", "[by:", "[offset:", "[length:", "[re:", "[ve:"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func parseWordTags(body string) []models.LyricWord {
	tags := wordTagRe.FindAllStringSubmatchIndex(body, -1)
	if len(tags) == 0 {
		return nil
	}

	var words []models.LyricWord
	for i, tag := range tags {
		end := len(body)
		if i+1 < len(tags) {
			end = tags[i+1][0]
		}
		word := strings.TrimSpace(body[tag[1]:end])
		if word == "" {
			continue
		}
		words = append(words, models.LyricWord{
			TimeMs: tagMillis(body[tag[0]:tag[1]], wordTagRe),
			Word:   word,
		})
	}
	return words
}

func stripWordTags(body string) string {
	out := wordTagRe.ReplaceAllString(body, " ")
	return strings.Join(strings.Fields(out), " ")
}

func tagMillis(tag string, re *regexp.Regexp) int64 {
	parts := re.FindStringSubmatch(tag)
	if len(parts) < 3 {
		return 0
	}
	min := atoiSafe(parts[1])
	sec := atoiSafe(parts[2])
	ms := 0
	if len(parts) >= 4 && parts[3] != "" {
		p := parts[3]
		switch len(p) {
		case 1:
			p += "00"
		case 2:
			p += "0"
		}
		ms = atoiSafe(p)
	}
	return int64(min*60*1000 + sec*1000 + ms)
}

func atoiSafe(s string) int {
	res := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		res = res*10 + int(c-'0')
	}
	return res
}
