package source

import (
	"regexp"
	"sort"
	"strings"
)

type idLink struct {
	re     *regexp.Regexp
	prefix string
}

var idLinks = []idLink{
	{regexp.MustCompile(`PDC\d{6}`), "https://pdc.cancer.gov/pdc/study/"},
	{regexp.MustCompile(`PXD\d{6}`), "https://proteomecentral.proteomexchange.org/cgi/GetDataset?ID="},
	{regexp.MustCompile(`ST\d{6}`), "https://www.metabolomicsworkbench.org/data/DRCCMetadata.php?Mode=Study&StudyID="},
}

var markdownLink = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)

// LinkIDs turns bare study ids into markdown links. Ids already inside a
// markdown link are left alone.
func LinkIDs(text string) string {
	spans := markdownLink.FindAllStringIndex(text, -1)
	inLink := func(pos int) bool {
		for _, s := range spans {
			if pos >= s[0] && pos < s[1] {
				return true
			}
		}
		return false
	}

	type hit struct {
		start, end int
		url        string
	}
	var hits []hit
	for _, l := range idLinks {
		for _, m := range l.re.FindAllStringIndex(text, -1) {
			if inLink(m[0]) || !boundary(text, m[0], m[1]) {
				continue
			}
			hits = append(hits, hit{m[0], m[1], l.prefix + text[m[0]:m[1]]})
		}
	}
	if len(hits) == 0 {
		return text
	}

	// Patterns cannot overlap, so sorting by start is enough.
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	var sb strings.Builder
	last := 0
	for _, h := range hits {
		sb.WriteString(text[last:h.start])
		id := text[h.start:h.end]
		sb.WriteString("[" + id + "](" + h.url + ")")
		last = h.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func boundary(s string, start, end int) bool {
	word := func(b byte) bool {
		return b == '_' || b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
	}
	if start > 0 && word(s[start-1]) {
		return false
	}
	if end < len(s) && word(s[end]) {
		return false
	}
	return true
}
