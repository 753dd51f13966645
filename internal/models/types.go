package models

// DetectionMethod names which signal produced a per-frame decision.
type DetectionMethod string

const (
	MethodEAR   DetectionMethod = "EAR"
	MethodModel DetectionMethod = "MODEL"
)

// Signal is the per-frame drowsiness signal produced by the inference
// service: a final closed/open decision plus the numeric value behind it.
// For EAR the value is the eye aspect ratio (lower = more closed); for MODEL
// it is the classifier confidence in [0,1] (higher = more open).
type Signal struct {
	FacesPresent int             `json:"faces_present"`
	Closed       bool            `json:"closed"`
	Value        float64         `json:"value"`
	Confidence   float64         `json:"confidence"`
	Method       DetectionMethod `json:"method"`
}

// DetectionStatus is the per-frame result sent back to a client.
type DetectionStatus struct {
	Drowsy     bool            `json:"drowsy"`
	Confidence float64         `json:"confidence"`
	Method     DetectionMethod `json:"method"`
	FaceFound  bool            `json:"face_found"`
}
