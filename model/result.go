package model

// PipelineResult describes one completed pipeline run.
type PipelineResult struct {
	ID            string    `json:"id"`
	MD5           string    `json:"md5"`
	Provider      string    `json:"provider"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Prompt        Prompt    `json:"prompt"`
	Score         float64   `json:"score"`
	BoundingBox   BBox      `json:"bounding_box"`
	ContourPoints int       `json:"contour_points"`
	ContourArea   float64   `json:"contour_area"`
	Segments      int       `json:"segments"`
	VertexCount   int       `json:"vertex_count"`
	FaceCount     int       `json:"face_count"`
	Artifacts     Artifacts `json:"artifacts"`
	Timestamp     int64     `json:"timestamp"`
}

// Artifacts are the files written by a pipeline run, relative to the output dir.
type Artifacts struct {
	Cutout string `json:"cutout"`
	OBJ    string `json:"obj"`
	STL    string `json:"stl,omitempty"`
}

// PipelineResponse wraps a pipeline result for the API.
type PipelineResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *PipelineResult `json:"data,omitempty"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
}
