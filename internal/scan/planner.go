package scan

import "fmt"

// Window is a single batched read request covering [Start, Start+Length)
// within one object space.
type Window struct {
	Space  Space
	Start  int
	Length int
}

// End returns the first address past the window.
func (w Window) End() int {
	return w.Start + w.Length
}

// Range returns the address range the window covers.
func (w Window) Range() AddressRange {
	return AddressRange{Space: w.Space, Start: w.Start, End: w.End()}
}

// Windows slices the range into ascending windows of width at most batch,
// without gaps or overlaps. An empty range yields no windows.
func Windows(r AddressRange, batch int) ([]Window, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfiguration, batch)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.Width() == 0 {
		return nil, nil
	}
	windows := make([]Window, 0, (r.Width()+batch-1)/batch)
	for start := r.Start; start < r.End; start += batch {
		length := batch
		if start+length > r.End {
			length = r.End - start
		}
		windows = append(windows, Window{Space: r.Space, Start: start, Length: length})
	}
	return windows, nil
}

// Narrow re-plans a failed window at half its width, floored at one address,
// so a persistently failing address can be isolated from its neighbours.
func Narrow(w Window) []Window {
	if w.Length <= 1 {
		return []Window{w}
	}
	half := w.Length / 2
	windows := make([]Window, 0, 2)
	for start := w.Start; start < w.End(); start += half {
		length := half
		if start+length > w.End() {
			length = w.End() - start
		}
		windows = append(windows, Window{Space: w.Space, Start: start, Length: length})
	}
	return windows
}
