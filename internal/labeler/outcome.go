package labeler

import (
	"FinScan/internal/domain/models"
)

// computeOutcome labels one signal against one complete horizon window. The
// window is the only market data it sees; anything beyond it cannot leak in.
// Excursion stats span the whole window. Target and stop hits are scanned
// chronologically and stop crediting once the stop is struck; a target and
// the stop crossing inside the same bar resolve by the configured policy.
// For short signals the favorable direction is down, so highs and lows swap
// roles and excursions are mirrored.
func computeOutcome(side models.Side, entry float64, window []models.Candle, grid models.TargetSet) models.Outcome {
	maxHigh, minLow := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > maxHigh {
			maxHigh = b.High
		}
		if b.Low < minLow {
			minLow = b.Low
		}
	}
	last := window[len(window)-1].Close

	var out models.Outcome
	if side == models.SideShort {
		out.RetClose = (entry - last) / entry
		out.MaxRunUp = (entry - minLow) / entry
		out.MaxDrawdown = (entry - maxHigh) / entry
	} else {
		out.RetClose = (last - entry) / entry
		out.MaxRunUp = (maxHigh - entry) / entry
		out.MaxDrawdown = (minLow - entry) / entry
	}

	levels := make([]float64, len(grid.Targets))
	for i, t := range grid.Targets {
		if side == models.SideShort {
			levels[i] = entry * (1 - t)
		} else {
			levels[i] = entry * (1 + t)
		}
	}
	stopLevel := 0.0
	if grid.Stop > 0 {
		if side == models.SideShort {
			stopLevel = entry * (1 + grid.Stop)
		} else {
			stopLevel = entry * (1 - grid.Stop)
		}
	}

	out.Targets = make([]models.LevelHit, len(grid.Targets))
	for i, b := range window {
		idx := i + 1
		stopCross := grid.Stop > 0 && adverseCrossed(side, b, stopLevel)
		if stopCross && grid.SameBar != models.SameBarTargetFirst {
			out.Stop = models.LevelHit{Hit: true, BarIndex: idx}
			break
		}
		for j, lvl := range levels {
			if !out.Targets[j].Hit && favorableCrossed(side, b, lvl) {
				out.Targets[j] = models.LevelHit{Hit: true, BarIndex: idx}
			}
		}
		if stopCross {
			out.Stop = models.LevelHit{Hit: true, BarIndex: idx}
			break
		}
	}
	return out
}

func favorableCrossed(side models.Side, b models.Candle, level float64) bool {
	if side == models.SideShort {
		return b.Low <= level
	}
	return b.High >= level
}

func adverseCrossed(side models.Side, b models.Candle, level float64) bool {
	if side == models.SideShort {
		return b.High >= level
	}
	return b.Low <= level
}
