package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&RelayInfo{},
	&Session{},
	&Entity{},
	&EntityState{},
	&RelayPerformance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// RelayInfo describes the relay instance that owns the database
type RelayInfo struct {
	gorm.Model
	InstanceName string `json:"instanceName" gorm:"size:127"`
	Description  string `json:"description" gorm:"size:255"`
	Website      string `json:"website" gorm:"size:255"`
}

func (*RelayInfo) TableName() string {
	return "relay_infos"
}

// RelayPerformance is a periodic sample of relay throughput
type RelayPerformance struct {
	ID                  uint              `json:"id" gorm:"primarykey;autoIncrement;"`
	Time                time.Time         `json:"time" gorm:"type:timestamptz;index:idx_relayperformance_time"`
	SessionID           uint              `json:"sessionId" gorm:"index:idx_relayperformance_session_id"`
	Session             Session           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Workers             uint32            `json:"workers"`
	Entities            uint32            `json:"entities"`
	TickDurationMs      float32           `json:"tickDurationMs"`
	Delivered           uint32            `json:"delivered"`
	Bytes               uint64            `json:"bytes"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*RelayPerformance) TableName() string {
	return "relay_performances"
}

// WriteQueueLengths is the model for the write queue lengths
type WriteQueueLengths struct {
	Entities     uint32 `json:"entities"`
	EntityStates uint32 `json:"entityStates"`
	Removals     uint32 `json:"removals"`
}

////////////////////////
// SESSION DATA
////////////////////////

// Session is one run of the relay
type Session struct {
	gorm.Model
	Name         string       `json:"name" gorm:"size:200"`
	Host         string       `json:"host" gorm:"size:127"`
	Port         int          `json:"port"`
	MaxFramerate int          `json:"maxFramerate" gorm:"default:20"`
	RelayVersion string       `json:"relayVersion" gorm:"size:64"`
	Tag          string       `json:"tag" gorm:"size:127"`
	StartTime    time.Time    `json:"sessionStart" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime      sql.NullTime `json:"sessionEnd" gorm:"type:timestamptz"`
	Entities     []Entity
}

func (*Session) TableName() string {
	return "sessions"
}

// Entity is a participant of a session, keyed by its relay id within the session
type Entity struct {
	ID         uint         `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID  uint         `json:"sessionId" gorm:"uniqueIndex:idx_entity_session_relay_id"`
	Session    Session      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	RelayID    string       `json:"relayId" gorm:"size:32;uniqueIndex:idx_entity_session_relay_id"`
	ModelPath  string       `json:"modelPath" gorm:"size:255"`
	DriverName string       `json:"driverName" gorm:"size:127"`
	JoinTime   time.Time    `json:"joinTime" gorm:"type:timestamptz"`
	LeaveTime  sql.NullTime `json:"leaveTime" gorm:"type:timestamptz"`
}

func (*Entity) TableName() string {
	return "entities"
}

// EntityState is one motion report
type EntityState struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;index:idx_entitystate_time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_entitystate_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	RelayID   string    `json:"relayId" gorm:"size:32;index:idx_entitystate_relay_id"`

	LocalX float64 `json:"localX"` // simulator frame, east
	LocalY float64 `json:"localY"` // simulator frame, up
	LocalZ float64 `json:"localZ"` // simulator frame, south

	Position  geom.Point `json:"position"`  // EPSG:3857, empty unless georeferenced
	Elevation float64    `json:"elevation"` // meters above the origin

	Orientation datatypes.JSON `json:"orientation"` // {"kind":"heading","heading":90} or {"kind":"rotation","rot":[w,x,y,z]}
	Steering    float64        `json:"steering"`
	WheelPos    float64        `json:"wheelPos"`
}

func (*EntityState) TableName() string {
	return "entity_states"
}
