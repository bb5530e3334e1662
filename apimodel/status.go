package apimodel

import "time"

type Status struct {
	State           string    `json:"state"`
	Ssid            string    `json:"ssid"`
	Address         string    `json:"address"`
	Gateway         string    `json:"gateway,omitempty"`
	JoinAttempts    int       `json:"join_attempts"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
	DisplayedText   string    `json:"displayed_text"`
	Frames          int       `json:"frames"`
	FrameFailures   int       `json:"frame_failures"`
	BusTransactions uint64    `json:"bus_transactions"`
	Version         string    `json:"version"`
}
