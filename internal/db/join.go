package db

import "time"

// streamTAKServer is the join row backing Stream.TAKServerIDs (spec.md §3
// "Stream... one or more TAKServers"), since gorm's AutoMigrate needs an
// explicit table for a many-to-many relation that the domain model exposes
// only as a plain []uint64.
type streamTAKServer struct {
	StreamID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	TAKServerID uint64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
}

func (streamTAKServer) TableName() string { return "stream_tak_servers" }
