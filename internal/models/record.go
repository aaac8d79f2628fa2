package models

// Provenance identifies where a stored row originated. Used for
// conflict-ignore on retries and for cascade deletion.
type Provenance struct {
	SourceTable string
	SourceID    string
}

// GeneticRecord is one parsed row from a raw genetic data dump.
type GeneticRecord struct {
	OwnerID     string
	RSID        string
	Chromosome  string
	Position    int64
	Genotype    string
	SourceTable string
	SourceID    string
}
