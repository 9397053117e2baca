package common

const (
	ComponentScanner       = "scanner"
	ComponentStore         = "store"
	ComponentReorgDetector = "reorg-detector"
	ComponentRPC           = "rpc"
	ComponentAPI           = "api"
	ComponentMetrics       = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentScanner:       {},
	ComponentStore:         {},
	ComponentReorgDetector: {},
	ComponentRPC:           {},
	ComponentAPI:           {},
	ComponentMetrics:       {},
}
