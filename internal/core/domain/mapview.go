package domain

// Heat circle colours by issue status.
const (
	HeatColorResolved = "#22c55e"
	HeatColorOpen     = "#f97316"
	HeatOpacity       = 0.3
)

// HeatCircle is a translucent fixed-radius disc marking an issue's area.
type HeatCircle struct {
	Center       GeoPoint `json:"center"`
	RadiusMeters float64  `json:"radius_m"`
	Color        string   `json:"color"`
	FillOpacity  float64  `json:"fill_opacity"`
}

// HeatCircleFor builds the circle for an issue.
func HeatCircleFor(issue Issue, radiusMeters float64) HeatCircle {
	color := HeatColorOpen
	if issue.Resolved() {
		color = HeatColorResolved
	}
	return HeatCircle{Center: issue.Location, RadiusMeters: radiusMeters, Color: color, FillOpacity: HeatOpacity}
}

// MarkerPopup is the summary shown when a marker is opened.
type MarkerPopup struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Upvotes  int    `json:"upvotes"`
}

// Marker is a clickable issue pin.
type Marker struct {
	IssueID  string      `json:"issue_id"`
	Position GeoPoint    `json:"position"`
	Popup    MarkerPopup `json:"popup"`
}

// MarkerFor builds the marker for an issue. The popup shows the backend's
// display status when it has one.
func MarkerFor(issue Issue) Marker {
	status := issue.StatusDisplay
	if status == "" {
		status = string(issue.Status)
	}
	return Marker{
		IssueID:  issue.ID,
		Position: issue.Location,
		Popup: MarkerPopup{
			Title:    issue.Title,
			Category: issue.Category,
			Status:   status,
			Upvotes:  issue.Upvotes,
		},
	}
}
