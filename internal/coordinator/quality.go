package coordinator

import "github.com/sharetube/watchsync/internal/domain"

// qualityClassifier damps quality samples. A sample moves the level by at most
// one step. The first step in a direction is taken at once; every further step
// in the same direction needs confirmations consecutive samples beyond the
// current level. A sample equal to the level ends the run.
type qualityClassifier struct {
	level         int
	direction     int
	streak        int
	confirmations int
}

func newQualityClassifier(initial domain.NetworkQuality, confirmations int) qualityClassifier {
	return qualityClassifier{
		level:         initial.Severity(),
		confirmations: confirmations,
	}
}

func (q *qualityClassifier) quality() domain.NetworkQuality {
	return domain.QualityFromSeverity(q.level)
}

func (q *qualityClassifier) observe(sample domain.NetworkQuality) domain.NetworkQuality {
	target := sample.Severity()
	if target == q.level {
		q.direction = 0
		q.streak = 0
		return q.quality()
	}

	direction := 1
	if target < q.level {
		direction = -1
	}

	if direction != q.direction {
		q.direction = direction
		q.streak = 0
		q.level += direction
		return q.quality()
	}

	q.streak++
	if q.streak >= q.confirmations {
		q.streak = 0
		q.level += direction
	}

	return q.quality()
}
