package indicator

import "math"

// Rolling primitives backing the incremental indicator state. Each type
// updates in O(1) amortized per bar; none of them ever rescans history.

// rollWindow is a fixed-size ring tracking sum and sum of squares over the
// most recent Push calls.
type rollWindow struct {
	buf   []float64
	idx   int
	n     int
	sum   float64
	sumSq float64
}

func newRollWindow(size int) *rollWindow {
	return &rollWindow{buf: make([]float64, size)}
}

func (w *rollWindow) Push(v float64) {
	if w.n >= len(w.buf) {
		old := w.buf[w.idx]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.n++
	}
	w.buf[w.idx] = v
	w.sum += v
	w.sumSq += v * v
	w.idx = (w.idx + 1) % len(w.buf)
}

func (w *rollWindow) Ready() bool { return w.n >= len(w.buf) }

func (w *rollWindow) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum / float64(w.n)
}

// StdDev is the sample standard deviation over the window.
func (w *rollWindow) StdDev() float64 {
	if w.n < 2 {
		return 0
	}
	n := float64(w.n)
	mean := w.sum / n
	variance := (w.sumSq - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Values returns the window contents in push order, oldest first.
func (w *rollWindow) Values() []float64 {
	out := make([]float64, 0, w.n)
	if w.n < len(w.buf) {
		out = append(out, w.buf[:w.n]...)
		return out
	}
	out = append(out, w.buf[w.idx:]...)
	out = append(out, w.buf[:w.idx]...)
	return out
}

// ema is an exponential moving average seeded with the simple average of
// the first span values, then smoothed with k = 2/(span+1).
type ema struct {
	span    int
	k       float64
	n       int
	seedSum float64
	v       float64
}

func newEMA(span int) *ema {
	return &ema{span: span, k: 2.0 / float64(span+1)}
}

func (e *ema) Push(x float64) {
	e.n++
	switch {
	case e.n < e.span:
		e.seedSum += x
	case e.n == e.span:
		e.seedSum += x
		e.v = e.seedSum / float64(e.span)
	default:
		e.v = x*e.k + e.v*(1-e.k)
	}
}

func (e *ema) Ready() bool    { return e.n >= e.span }
func (e *ema) Value() float64 { return e.v }

// wilder is Wilder's smoothing: seeded with the simple average of the first
// period values, then avg = (avg*(period-1) + v) / period.
type wilder struct {
	period  int
	n       int
	seedSum float64
	avg     float64
}

func newWilder(period int) *wilder {
	return &wilder{period: period}
}

func (w *wilder) Push(v float64) {
	w.n++
	switch {
	case w.n < w.period:
		w.seedSum += v
	case w.n == w.period:
		w.seedSum += v
		w.avg = w.seedSum / float64(w.period)
	default:
		w.avg = (w.avg*float64(w.period-1) + v) / float64(w.period)
	}
}

func (w *wilder) Ready() bool    { return w.n >= w.period }
func (w *wilder) Value() float64 { return w.avg }

// monoDeque tracks the rolling max (or min) of the last win pushed values
// using a monotonic index deque.
type monoDeque struct {
	idx   []int
	val   []float64
	win   int
	count int
	max   bool
}

func newMaxDeque(win int) *monoDeque { return &monoDeque{win: win, max: true} }
func newMinDeque(win int) *monoDeque { return &monoDeque{win: win} }

func (d *monoDeque) Push(v float64) {
	for len(d.val) > 0 {
		last := d.val[len(d.val)-1]
		if (d.max && last <= v) || (!d.max && last >= v) {
			d.idx = d.idx[:len(d.idx)-1]
			d.val = d.val[:len(d.val)-1]
			continue
		}
		break
	}
	d.idx = append(d.idx, d.count)
	d.val = append(d.val, v)
	d.count++
	for len(d.idx) > 0 && d.idx[0] <= d.count-1-d.win {
		d.idx = d.idx[1:]
		d.val = d.val[1:]
	}
}

func (d *monoDeque) Ready() bool    { return d.count >= d.win }
func (d *monoDeque) Value() float64 { return d.val[0] }
