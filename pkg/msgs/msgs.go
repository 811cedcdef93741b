// Package msgs holds the message, service and action payload types used by
// the bundled tools and examples. Applications define their own types the
// same way; any struct that CBOR can encode works, as does any protobuf
// message.
package msgs

// Point is a position in 3D space.
type Point struct {
	X float64 `cbor:"x" json:"x"`
	Y float64 `cbor:"y" json:"y"`
	Z float64 `cbor:"z" json:"z"`
}

// Quaternion is an orientation in 3D space.
type Quaternion struct {
	X float64 `cbor:"x" json:"x"`
	Y float64 `cbor:"y" json:"y"`
	Z float64 `cbor:"z" json:"z"`
	W float64 `cbor:"w" json:"w"`
}

// Pose is a position and orientation pair.
type Pose struct {
	Position    Point      `cbor:"position" json:"position"`
	Orientation Quaternion `cbor:"orientation" json:"orientation"`
}

// Pose2D is a planar pose.
type Pose2D struct {
	X     float64 `cbor:"x" json:"x"`
	Y     float64 `cbor:"y" json:"y"`
	Theta float64 `cbor:"theta" json:"theta"`
}

// AddTwoIntsRequest asks for the sum of two integers.
type AddTwoIntsRequest struct {
	A int64 `cbor:"a" json:"a"`
	B int64 `cbor:"b" json:"b"`
}

// AddTwoIntsResponse carries the sum.
type AddTwoIntsResponse struct {
	Sum int64 `cbor:"sum" json:"sum"`
}

// TriggerRequest starts a side effect with no parameters.
type TriggerRequest struct{}

// TriggerResponse reports whether the side effect happened.
type TriggerResponse struct {
	Success bool   `cbor:"success" json:"success"`
	Message string `cbor:"message" json:"message"`
}

// FibonacciGoal asks for a Fibonacci sequence of the given order.
type FibonacciGoal struct {
	Order int32 `cbor:"order" json:"order"`
}

// FibonacciFeedback carries the sequence computed so far.
type FibonacciFeedback struct {
	PartialSequence []int64 `cbor:"partial_sequence" json:"partial_sequence"`
}

// FibonacciResult carries the final sequence.
type FibonacciResult struct {
	Sequence []int64 `cbor:"sequence" json:"sequence"`
}
