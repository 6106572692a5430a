package domain

// GenerateSlots produces the ordered candidate slots of length slotMinutes
// that fit entirely inside the working window. A trailing partial slot is
// never emitted. The sequence is deterministic and side-effect free.
func GenerateSlots(window Interval, slotMinutes int) []Interval {
	if slotMinutes <= 0 {
		return nil
	}
	if window.Start >= window.End {
		return nil
	}

	step := MinuteOfDay(slotMinutes)
	out := make([]Interval, 0, window.Minutes()/slotMinutes)
	for start := window.Start; start+step <= window.End; start += step {
		out = append(out, Interval{Start: start, End: start + step})
	}
	return out
}
