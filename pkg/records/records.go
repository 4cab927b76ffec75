// Package records defines the row types flowing through the training job and
// the fixed failure-code dictionary.
package records

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownFailureCode is returned when a failure code is not in the dictionary.
var ErrUnknownFailureCode = errors.New("unknown failure code")

// NumClasses is the number of label classes (none plus four components).
const NumClasses = 5

// Failure codes as they appear in the failures dataset.
const (
	CodeNone  = "None"
	CodeComp1 = "comp1"
	CodeComp2 = "comp2"
	CodeComp3 = "comp3"
	CodeComp4 = "comp4"
)

var failureClasses = map[string]int{
	CodeNone:  0,
	"none":    0,
	CodeComp1: 1,
	CodeComp2: 2,
	CodeComp3: 3,
	CodeComp4: 4,
}

// ClassOf maps a failure code to its class id. A nil code means no failure
// was recorded and maps to 0.
func ClassOf(code *string) (int, error) {
	if code == nil {
		return 0, nil
	}
	class, ok := failureClasses[*code]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFailureCode, *code)
	}
	return class, nil
}

// Telemetry is one periodic sensor reading.
type Telemetry struct {
	Datetime  time.Time
	MachineID int64
	Volt      float64
	Rotate    float64
	Pressure  float64
	Vibration float64
}

// Failure marks a component failure on a machine.
type Failure struct {
	Datetime  time.Time
	MachineID int64
	Code      string
}

// Merged is a telemetry reading left-joined with a failure at the same
// instant. Failure is nil when no failure was recorded.
type Merged struct {
	Telemetry
	Failure *string
}

// Labeled is a merged reading with its encoded failure class and the
// backfilled label.
type Labeled struct {
	Telemetry
	Failure      *string
	FailureClass int
	Label        int
}

// Prediction is one scored test row as written to the output.
type Prediction struct {
	Datetime   time.Time
	Year       int
	Month      int
	Day        int
	MachineID  int64
	Prediction int
}

// NewPrediction derives the date parts from the reading time in UTC.
func NewPrediction(datetime time.Time, machineID int64, class int) Prediction {
	t := datetime.UTC()
	return Prediction{
		Datetime:   datetime,
		Year:       t.Year(),
		Month:      int(t.Month()),
		Day:        t.Day(),
		MachineID:  machineID,
		Prediction: class,
	}
}
