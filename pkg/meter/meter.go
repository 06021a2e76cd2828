// Package meter defines the metering accessor contract: it treats the
// meter IC itself as an external collaborator, specifying only the
// reading shape and the polling interface consumed by the OCPP
// connector FSM.
package meter

import "time"

// ReadingContext mirrors OCPP 1.6's MeterValues reading context enum.
type ReadingContext string

const (
	ContextInterruptionBegin ReadingContext = "Interruption.Begin"
	ContextInterruptionEnd   ReadingContext = "Interruption.End"
	ContextSampleClock       ReadingContext = "Sample.Clock"
	ContextSamplePeriodic    ReadingContext = "Sample.Periodic"
	ContextTransactionBegin  ReadingContext = "Transaction.Begin"
	ContextTransactionEnd    ReadingContext = "Transaction.End"
	ContextTrigger           ReadingContext = "Trigger"
	ContextOther             ReadingContext = "Other"
)

// Reading is one metering sample ("metering.last-sample").
type Reading struct {
	Timestamp   time.Time
	EnergyWh    int64 // cumulative active energy import, Wh
	PowerW      int64
	CurrentMA   int64
	VoltageMV   int64
	PowerFactor float64
	FrequencyHz float64
	TemperatureC float64
	SoCPercent  int
	Context     ReadingContext
}

// Accessor reads the meter IC. Implementations are external
// collaborators; a single call must not block longer than
// one main-runner period under normal operation.
type Accessor interface {
	Read() (Reading, error)
}
