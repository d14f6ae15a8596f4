package speech

import (
	"regexp"
	"strings"
)

var (
	codeFencePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`([^`]*)`")
	imagePattern      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingPattern    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	quotePattern      = regexp.MustCompile(`(?m)^\s*>+\s?`)
	listPattern       = regexp.MustCompile(`(?m)^\s*(?:[-*+•]|\d+[.)])\s+`)
	rulePattern       = regexp.MustCompile(`(?m)^\s*(?:[-*_]\s*){3,}$`)
	emphasisPattern   = regexp.MustCompile(`(\*\*|\*|~~)([^*~\n]+?)(\*\*|\*|~~)`)
	// 下划线强调必须在词边界上，scope_1 这类标识符保持原样。
	underscorePattern = regexp.MustCompile(`(^|[^\p{L}\p{N}_])(__|_)([^_\n]+?)(__|_)($|[^\p{L}\p{N}_])`)
	tablePipePattern  = regexp.MustCompile(`\s*\|\s*`)
	emojiPattern      = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}\x{FE00}-\x{FE0F}\x{200D}\x{20E3}\x{E0020}-\x{E007F}]`)
	spacePattern      = regexp.MustCompile(`[ \t]+`)
	blankLinePattern  = regexp.MustCompile(`\n{2,}`)
)

// CleanText 去掉 Markdown 标记与 emoji，得到适合朗读的纯文本。
func CleanText(text string) string {
	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = codeFencePattern.ReplaceAllString(out, " ")
	out = imagePattern.ReplaceAllString(out, "$1")
	out = linkPattern.ReplaceAllString(out, "$1")
	out = inlineCodePattern.ReplaceAllString(out, "$1")
	out = rulePattern.ReplaceAllString(out, "")
	out = headingPattern.ReplaceAllString(out, "")
	out = quotePattern.ReplaceAllString(out, "")
	out = listPattern.ReplaceAllString(out, "")
	// 嵌套强调需要两轮。
	for i := 0; i < 2; i++ {
		out = emphasisPattern.ReplaceAllString(out, "$2")
		out = underscorePattern.ReplaceAllString(out, "$1$3$5")
	}
	out = tablePipePattern.ReplaceAllString(out, " ")
	out = emojiPattern.ReplaceAllString(out, "")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	out = strings.Join(lines, "\n")
	out = blankLinePattern.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}
