package intent

import (
	"regexp"
	"strings"
)

// SourceID names one backend database.
type SourceID string

const (
	SourcePDC SourceID = "PDC"
	SourceGDC SourceID = "GDC"
	SourceIDC SourceID = "IDC"
	SourcePX  SourceID = "PX"
	SourceMWB SourceID = "MWB"
)

// Family groups databases served by one handler.
type Family string

const (
	FamilyCRDC Family = "CRDC"
	FamilyPX   Family = "PX"
	FamilyMWB  Family = "MWB"
)

var sourceNames = map[SourceID]string{
	SourcePDC: "Proteomic Data Commons",
	SourceGDC: "Genomic Data Commons",
	SourceIDC: "Imaging Data Commons",
	SourcePX:  "Proteome Exchange",
	SourceMWB: "Metabolomics Workbench",
}

var familyNames = map[Family]string{
	FamilyCRDC: "Cancer Research Data Commons",
	FamilyPX:   "Proteome Exchange",
	FamilyMWB:  "Metabolomics Workbench",
}

// AllSources lists every backend in a stable order.
var AllSources = []SourceID{SourcePDC, SourceGDC, SourceIDC, SourcePX, SourceMWB}

func (s SourceID) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

func (s SourceID) Name() string {
	return sourceNames[s]
}

func (s SourceID) Family() Family {
	switch s {
	case SourcePDC, SourceGDC, SourceIDC:
		return FamilyCRDC
	case SourcePX:
		return FamilyPX
	case SourceMWB:
		return FamilyMWB
	}
	return ""
}

func (f Family) Name() string {
	return familyNames[f]
}

var namedPatterns = func() map[SourceID]*regexp.Regexp {
	out := make(map[SourceID]*regexp.Regexp, len(sourceNames))
	for id, name := range sourceNames {
		pattern := `(?i)\b(` + regexp.QuoteMeta(string(id)) + `|` + regexp.QuoteMeta(name) + `)\b`
		out[id] = regexp.MustCompile(pattern)
	}
	// "ProteomeXchange" and "PRIDE" both mean PX.
	out[SourcePX] = regexp.MustCompile(`(?i)\b(PX|Proteome\s?Exchange|ProteomeXchange|PRIDE)\b`)
	return out
}()

// NamedSources returns the backends the text names explicitly, in AllSources order.
func NamedSources(text string) []SourceID {
	var out []SourceID
	for _, id := range AllSources {
		if namedPatterns[id].MatchString(text) {
			out = append(out, id)
		}
	}
	return out
}

// Describe renders the backend catalogue for prompts.
func Describe() string {
	var sb strings.Builder
	for _, id := range AllSources {
		sb.WriteString("- ")
		sb.WriteString(string(id))
		sb.WriteString(": ")
		sb.WriteString(id.Name())
		sb.WriteString("\n")
	}
	return sb.String()
}
