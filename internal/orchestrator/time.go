package orchestrator

import "time"

// nowFunc is the time source used throughout the package; overridable by
// tests.
var nowFunc = time.Now
