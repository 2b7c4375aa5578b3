package sampling

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-replica/pkg/services/workqueue"
)

// RelationReport is the outcome for one relation.
type RelationReport struct {
	Relation   string
	Status     workqueue.TaskStatus
	SampleSize int64
	// PopulationSize is only known in analyze mode; -1 otherwise.
	PopulationSize int64
	Duration       time.Duration
	Caveats        []string
	Err            error
}

// Ratio is the sample size as a percentage of the population, or -1 when
// the population is unknown.
func (r RelationReport) Ratio() float64 {
	if r.PopulationSize < 0 {
		return -1
	}
	if r.PopulationSize == 0 {
		return 0
	}
	return float64(r.SampleSize) / float64(r.PopulationSize) * 100
}

// Report summarizes a sampling run.
type Report struct {
	RunID          uuid.UUID
	Analyze        bool
	Relations      []RelationReport
	DatabaseErrors []DatabaseError
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Failed reports whether any relation or database failed.
func (r *Report) Failed() bool {
	if len(r.DatabaseErrors) > 0 {
		return true
	}
	for _, rel := range r.Relations {
		if rel.Status != workqueue.TaskStatusCompleted {
			return true
		}
	}
	return false
}

// TotalRows sums the sample sizes of completed relations.
func (r *Report) TotalRows() int64 {
	var total int64
	for _, rel := range r.Relations {
		if rel.Status == workqueue.TaskStatusCompleted {
			total += rel.SampleSize
		}
	}
	return total
}

// Render writes the report as an aligned table.
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if r.Analyze {
		fmt.Fprintln(tw, "RELATION\tSTATUS\tSAMPLE\tPOPULATION\tRATIO\tNOTES")
	} else {
		fmt.Fprintln(tw, "RELATION\tSTATUS\tROWS\tDURATION\tNOTES")
	}

	for _, rel := range r.Relations {
		notes := append([]string(nil), rel.Caveats...)
		if rel.Err != nil {
			notes = append(notes, rel.Err.Error())
		}
		if r.Analyze {
			population, ratio := "-", "-"
			if rel.PopulationSize >= 0 {
				population = fmt.Sprintf("%d", rel.PopulationSize)
				ratio = fmt.Sprintf("%.2f%%", rel.Ratio())
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				rel.Relation, rel.Status, rel.SampleSize, population, ratio, strings.Join(notes, "; "))
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				rel.Relation, rel.Status, rel.SampleSize, rel.Duration.Round(time.Millisecond), strings.Join(notes, "; "))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, de := range r.DatabaseErrors {
		if _, err := fmt.Fprintf(w, "database %s skipped: %v\n", de.Database, de.Err); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "run %s: %d relations, %d rows in %s\n",
		r.RunID, len(r.Relations), r.TotalRows(), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return err
}
