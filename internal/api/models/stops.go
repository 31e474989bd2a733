package models

// StopCandidate is one ranked stop match.
type StopCandidate struct {
	Code        string  `json:"code"`
	RoadName    string  `json:"roadName"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
}

// StopSearchResponse is the body of GET /v1/stops:search.
type StopSearchResponse struct {
	Query string          `json:"query"`
	Items []StopCandidate `json:"items"`
}
