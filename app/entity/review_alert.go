package entity

import "time"

type ReviewAlert struct {
	ID            uint64
	TransactionID string
	JobID         string
	Reason        string
	Detail        string
	CreatedAt     time.Time
}
