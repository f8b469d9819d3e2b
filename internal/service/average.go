package service

import (
	"math"
	"strconv"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

// DefaultPassingMark is the lowest passing numeric grade.
const DefaultPassingMark = 75.0

const (
	displayOngoing      = "Ongoing"
	displayNotAvailable = "N/A"
	remarksPassed       = "Passed"
	remarksFailed       = "Failed"
)

// ComputeAverage derives the displayed grade of a record from the quarters
// relevant to its semester. A stored semester grade above zero takes
// precedence over the computed average once every quarter is present.
// A non-positive passingMark falls back to DefaultPassingMark.
func ComputeAverage(record models.GradeRecord, passingMark float64) models.GradeDisplay {
	if passingMark <= 0 {
		passingMark = DefaultPassingMark
	}

	values := record.RelevantQuarters()
	present := 0
	sum := 0.0
	for _, v := range values {
		if v != nil {
			present++
			sum += *v
		}
	}

	switch {
	case present == 0:
		return models.GradeDisplay{Display: displayNotAvailable}
	case present < len(values):
		return models.GradeDisplay{Display: displayOngoing}
	}

	var result float64
	if record.SemesterGrade != nil && *record.SemesterGrade > 0 {
		result = *record.SemesterGrade
	} else {
		result = roundOneDecimal(sum / float64(present))
	}

	remarks := remarksFailed
	if result >= passingMark {
		remarks = remarksPassed
	}
	return models.GradeDisplay{
		Value:   &result,
		Display: strconv.FormatFloat(result, 'f', 1, 64),
		Remarks: remarks,
	}
}

// semesterGradeFor returns the stored semester grade for a record without an
// override: the rounded average once every relevant quarter is present.
func semesterGradeFor(record *models.GradeRecord) *float64 {
	values := record.RelevantQuarters()
	sum := 0.0
	for _, v := range values {
		if v == nil {
			return nil
		}
		sum += *v
	}
	avg := roundOneDecimal(sum / float64(len(values)))
	return &avg
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
