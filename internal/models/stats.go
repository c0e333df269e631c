package models

// AdminStats is a point-in-time usage summary for the admin panel.
type AdminStats struct {
	TotalUsers      int64 `json:"totalUsers"`
	TotalDeliveries int64 `json:"totalDeliveries"`
	ActiveSessions  int64 `json:"activeSessions"`
	TotalBlocks     int64 `json:"totalBlocks"`
	DeliveriesToday int64 `json:"deliveriesToday"`
}
