package kde

// Mode selects the density evaluator.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeNaive    Mode = "naive"
	ModeDualTree Mode = "dualtree"
)

// selectMode resolves ModeAuto into a concrete evaluator based on problem
// size. Small problems gain nothing from a query tree.
func selectMode(cfg Config, numQueries, numRefs int) Mode {
	if cfg.Mode != ModeAuto {
		return cfg.Mode
	}
	if int64(numQueries)*int64(numRefs) <= int64(cfg.NaiveThreshold) {
		return ModeNaive
	}
	return ModeDualTree
}
