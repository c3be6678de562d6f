package generic

// Void is a zero-size placeholder for "no value".
type Void = struct{}

func NewVoid() Void {
	return Void{}
}
