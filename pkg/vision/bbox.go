package vision

import "math"

// Box is a rectangle in normalized [0,1] image coordinates.
type Box struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// combineThreshold is the maximum center distance, as a fraction of the
// image diagonal, at which two boxes merge into one review box.
const combineThreshold = 0.3

func (b Box) center() (float64, float64) {
	return (b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2
}

// Union returns the minimum bounding rectangle of both boxes.
func (b Box) Union(o Box) Box {
	return Box{
		X0: math.Min(b.X0, o.X0),
		Y0: math.Min(b.Y0, o.Y0),
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
	}
}

// CombineBoxes merges the receipt-number and date boxes when their
// centers lie within combineThreshold of the image diagonal; otherwise
// they stay separate and the caller shows both.
func CombineBoxes(receipt, date *Box) *Box {
	if receipt == nil || date == nil {
		return nil
	}
	rx, ry := receipt.center()
	dx, dy := date.center()
	dist := math.Hypot(rx-dx, ry-dy)
	// Normalized coordinates put the diagonal at sqrt(2).
	if dist > combineThreshold*math.Sqrt2 {
		return nil
	}
	u := receipt.Union(*date)
	return &u
}

// ReviewBox is the crop hint persisted for the review UI: the combined
// box when receipt number and date sit close together, else the
// receipt-number box, else the date box.
func (r *Result) ReviewBox() *Box {
	if r.CombinedBox != nil {
		return r.CombinedBox
	}
	if r.ReceiptBox != nil {
		return r.ReceiptBox
	}
	return r.DateBox
}

// boxFromField reads a [x0, y0, x1, y1] array field out of the header.
func boxFromField(header map[string]any, key string) *Box {
	raw, ok := header[key].([]any)
	if !ok || len(raw) != 4 {
		return nil
	}
	vals := make([]float64, 4)
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		vals[i] = f
	}
	return &Box{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}
}
