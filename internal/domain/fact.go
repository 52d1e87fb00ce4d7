package domain

import "time"

// Fact is a piece of information the hosted agent asked the page to record.
type Fact struct {
	UserID    string    `json:"-"`
	FactID    string    `json:"fact_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// WidgetAction is relayed from the panel to the host when a client tool
// produces something the page should act on.
type WidgetAction struct {
	Type     string `json:"type"`
	FactID   string `json:"fact_id"`
	FactText string `json:"fact_text"`
}

// WidgetActionSave is the only action type the panel emits today.
const WidgetActionSave = "save"
