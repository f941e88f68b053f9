package protocol

// Pipeline stages, in run order. Failed replaces Done when a run aborts.
const (
	StageConnect = "connect"
	StageSelect  = "select"
	StageFlatten = "flatten"
	StagePlan    = "plan"
	StageBuild   = "build"
	StageDone    = "done"
	StageFailed  = "failed"
)

const (
	StatusStart = "start"
	StatusOK    = "ok"
	StatusError = "error"
)

// StageEvent is broadcast to observers as each stage starts and ends.
type StageEvent struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Seq             int    `json:"seq"`
	Stage           string `json:"stage"`
	Status          string `json:"status"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`

	BuildArea *AreaInfo    `json:"build_area,omitempty"`
	Site      *SiteInfo    `json:"site,omitempty"`
	Flatten   *FlattenInfo `json:"flatten,omitempty"`
	House     *HouseInfo   `json:"house,omitempty"`
}

type AreaInfo struct {
	From [3]int `json:"from"`
	To   [3]int `json:"to"`
}

type SiteInfo struct {
	X        int     `json:"x"`
	Z        int     `json:"z"`
	Variance float64 `json:"variance"`
	Scanned  int     `json:"scanned"`
	Rejected int     `json:"rejected"`
}

type FlattenInfo struct {
	Target  int    `json:"target"`
	Floor   string `json:"floor"`
	Cleared int    `json:"cleared_blocks"`
	Filled  int    `json:"filled_blocks"`
}

type HouseInfo struct {
	Axis       string `json:"axis"`
	Length     int    `json:"length"`
	Width      int    `json:"width"`
	WallHeight int    `json:"wall_height"`
	Origin     [3]int `json:"origin"`
	Writes     int    `json:"writes,omitempty"`
}
