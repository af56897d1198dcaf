package mwb

// restContext describes one context area of the Metabolomics Workbench REST
// API. A nil inputItems list accepts any input item.
type restContext struct {
	description string
	inputItems  []string
	outputHint  string
}

var restContexts = map[string]restContext{
	Study: {
		description: "Studies, analyses, factors and measured metabolites. Study ids look like ST000001 and analysis ids AN000001.",
		inputItems:  []string{"study_id", "study_title", "institute", "last_name", "analysis_id", "metabolite_id"},
		outputHint:  "summary | factors | analysis | metabolites | species | disease | source | number_of_metabolites | data",
	},
	Compound: {
		description: "The Metabolite Database of over 64,000 structures with names, formulas, masses, identifiers and classification.",
		inputItems:  []string{"regno", "formula", "inchi_key", "lm_id", "pubchem_cid", "hmdb_id", "kegg_id", "chebi_id", "metacyc_id", "abbrev"},
		outputHint:  "all | classification | formula | exactmass | name | smiles | png (needs regno) | comma separated fields",
	},
	Refmet: {
		description: "RefMet standardized metabolite nomenclature and its classification hierarchy.",
		inputItems:  []string{"match", "name", "inchi_key", "regno", "pubchem_cid", "formula", "lm_id", "main_class", "sub_class"},
		outputHint:  "all | name | formula | exactmass | super_class | main_class | sub_class",
	},
	Gene: {
		description: "Human metabolic genes of the Metabolome Gene/Protein database.",
		inputItems:  []string{"mgp_id", "gene_id", "gene_name", "gene_symbol", "taxid"},
		outputHint:  "all | gene_name | gene_synonyms | summary | chromosome | taxid",
	},
	Protein: {
		description: "Human metabolic proteins of the Metabolome Gene/Protein database.",
		inputItems:  []string{"mgp_id", "gene_id", "gene_name", "gene_symbol", "taxid", "mrna_id", "refseq_id", "protein_gi", "uniprot_id", "protein_entry", "protein_name"},
		outputHint:  "all | protein_name | seqlength | uniprot_id | mrna_id",
	},
	Moverz: {
		description: "Precursor m/z searches. Use input_item as the database (REFMET, LIPIDS or MB), input_value as the m/z, " +
			"output_item as the ion type (e.g. M+H) and output_format as the tolerance (e.g. 0.1).",
	},
	Metstat: {
		description: "Metabolite statistics across studies. Use input_item as the semicolon separated filter list " +
			"(analysis;polarity;chromatography;species;sample source;disease;kegg id;refmet name), leaving fields empty to ignore them.",
	},
}

func (c restContext) accepts(item string) bool {
	if c.inputItems == nil {
		return true
	}
	for _, i := range c.inputItems {
		if i == item {
			return true
		}
	}
	return false
}
